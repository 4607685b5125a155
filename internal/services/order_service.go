package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/repositories"
)

const (
	orderEventCreated   = "order.created"
	orderEventUpdated   = "order.updated"
	orderEventDelivered = "order.delivered"
	orderEventCanceled  = "order.canceled"
	orderEventDeleted   = "order.deleted"

	orderIDPrefix = "ord_"

	defaultOrderPage  = 1
	defaultOrderLimit = 10
	maxOrderLimit     = 100

	defaultOrderSortField = "createdAt"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or a referenced entity could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate id or a concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

var orderSentinels = []error{ErrOrderInvalidInput, ErrOrderNotFound, ErrOrderConflict, ErrOrderUnavailable}

// ErrorMessage returns the user-facing part of an order service error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range orderSentinels {
		if prefix := sentinel.Error() + ": "; strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

var orderSortFields = map[string]func(a, b domain.Order) int{
	"createdAt":        func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updatedAt":        func(a, b domain.Order) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
	"nextDeliveryDate": func(a, b domain.Order) int { return a.NextDeliveryDate.Compare(b.NextDeliveryDate) },
	"price":            func(a, b domain.Order) int { return compareOrdered(a.Price, b.Price) },
	"quantity":         func(a, b domain.Order) int { return compareOrdered(a.Quantity, b.Quantity) },
	"deliveryDay":      func(a, b domain.Order) int { return compareOrdered(a.DeliveryDay, b.DeliveryDay) },
	"deliveryInterval": func(a, b domain.Order) int { return compareOrdered(a.DeliveryInterval, b.DeliveryInterval) },
	"status":           func(a, b domain.Order) int { return strings.Compare(string(a.Status), string(b.Status)) },
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Users    repositories.UserRepository
	Products repositories.ProductRepository
	Events   OrderEventPublisher
	// Location anchors delivery dates to local midnight. Defaults to UTC.
	Location    *time.Location
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	users    repositories.UserRepository
	products repositories.ProductRepository
	events   OrderEventPublisher
	location *time.Location
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		users:    deps.Users,
		products: deps.Products,
		events:   deps.Events,
		location: location,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (OrderView, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	customerID := strings.TrimSpace(cmd.CustomerID)
	supplierID := strings.TrimSpace(cmd.SupplierID)

	switch {
	case productID == "":
		return OrderView{}, invalidOrderInput("product is required")
	case customerID == "":
		return OrderView{}, invalidOrderInput("customer is required")
	case supplierID == "":
		return OrderView{}, invalidOrderInput("supplier is required")
	case cmd.Quantity == nil:
		return OrderView{}, invalidOrderInput("quantity is required")
	case cmd.Price == nil:
		return OrderView{}, invalidOrderInput("price is required")
	case cmd.DeliveryInterval == nil:
		return OrderView{}, invalidOrderInput("deliveryInterval is required")
	case cmd.DeliveryDay == nil:
		return OrderView{}, invalidOrderInput("deliveryDay is required")
	}

	if err := validateDeliveryFields(cmd.DeliveryInterval, cmd.DeliveryDay); err != nil {
		return OrderView{}, err
	}
	if err := validateAmounts(cmd.Quantity, cmd.Price); err != nil {
		return OrderView{}, err
	}

	status := domain.OrderStatusPending
	if raw := strings.TrimSpace(cmd.Status); raw != "" {
		parsed, err := parseStatus(raw)
		if err != nil {
			return OrderView{}, err
		}
		status = parsed
	}

	if customerID == supplierID {
		return OrderView{}, invalidOrderInput("customer and supplier cannot be the same user")
	}

	product, err := s.validateProduct(ctx, productID)
	if err != nil {
		return OrderView{}, err
	}
	customer, err := s.validateParty(ctx, customerID, domain.UserRoleClient, "Customer")
	if err != nil {
		return OrderView{}, err
	}
	supplier, err := s.validateParty(ctx, supplierID, domain.UserRoleSupplier, "Supplier")
	if err != nil {
		return OrderView{}, err
	}

	now := s.now()

	var next time.Time
	if raw := strings.TrimSpace(cmd.NextDeliveryDate); raw != "" {
		next, err = parseDeliveryDate(raw)
		if err != nil {
			return OrderView{}, err
		}
	} else {
		next = domain.ComputeNextDeliveryDate(now.In(s.location), *cmd.DeliveryDay, *cmd.DeliveryInterval)
	}

	order := domain.Order{
		ID:               s.nextOrderID(),
		ProductID:        productID,
		CustomerID:       customerID,
		SupplierID:       supplierID,
		Quantity:         *cmd.Quantity,
		Price:            *cmd.Price,
		DeliveryInterval: *cmd.DeliveryInterval,
		DeliveryDay:      *cmd.DeliveryDay,
		NextDeliveryDate: next.UTC(),
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderEventCreated, order)

	return OrderView{
		Order:    order,
		Product:  &domain.OrderProduct{ID: product.ID, Name: product.Name},
		Customer: domain.PartyFromUser(customer),
		Supplier: domain.PartyFromUser(supplier),
	}, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (OrderListResult, error) {
	query := repositories.OrderQuery{}
	// Ids that cannot address a document are ignored rather than rejected.
	if id := strings.TrimSpace(filter.CustomerID); domain.ValidID(id) {
		query.CustomerID = id
	}
	if id := strings.TrimSpace(filter.SupplierID); domain.ValidID(id) {
		query.SupplierID = id
	}
	if id := strings.TrimSpace(filter.ProductID); domain.ValidID(id) {
		query.ProductID = id
	}
	if raw := strings.TrimSpace(filter.Status); raw != "" {
		query.Status = domain.OrderStatus(raw)
	}

	orders, err := s.orders.List(ctx, query)
	if err != nil {
		return OrderListResult{}, s.mapRepositoryError(err)
	}

	now := s.now()
	matched := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if matchesOrderFilter(order, filter, now) {
			matched = append(matched, order)
		}
	}

	sortOrders(matched, filter.Sort)

	result := OrderListResult{Total: len(matched)}
	page := matched
	if filter.Page != nil || filter.Limit != nil {
		result.Paginated = true
		result.Page = normalisePage(filter.Page)
		result.Limit = normaliseLimit(filter.Limit)
		result.TotalPages = int(math.Ceil(float64(result.Total) / float64(result.Limit)))
		start := (result.Page - 1) * result.Limit
		switch {
		case start >= len(matched):
			page = nil
		case start+result.Limit < len(matched):
			page = matched[start : start+result.Limit]
		default:
			page = matched[start:]
		}
	}

	populator := s.newPopulator()
	result.Items = make([]OrderView, 0, len(page))
	for _, order := range page {
		view, err := populator.populate(ctx, order)
		if err != nil {
			return OrderListResult{}, err
		}
		result.Items = append(result.Items, view)
	}
	return result, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	return s.newPopulator().populate(ctx, order)
}

func (s *orderService) Update(ctx context.Context, orderID string, cmd UpdateOrderCommand) (OrderView, error) {
	orderID = strings.TrimSpace(orderID)
	if !domain.ValidID(orderID) {
		return OrderView{}, invalidOrderInput("Invalid order ID")
	}

	if err := validateDeliveryFields(cmd.DeliveryInterval, cmd.DeliveryDay); err != nil {
		return OrderView{}, err
	}

	productID := trimmedValue(cmd.ProductID)
	customerID := trimmedValue(cmd.CustomerID)
	supplierID := trimmedValue(cmd.SupplierID)

	if customerID != "" && supplierID != "" && customerID == supplierID {
		return OrderView{}, invalidOrderInput("customer and supplier cannot be the same user")
	}
	if err := validateAmounts(cmd.Quantity, cmd.Price); err != nil {
		return OrderView{}, err
	}

	var status domain.OrderStatus
	if raw := trimmedValue(cmd.Status); raw != "" {
		parsed, err := parseStatus(raw)
		if err != nil {
			return OrderView{}, err
		}
		status = parsed
	}

	existing, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}

	if productID != "" {
		if _, err := s.validateProduct(ctx, productID); err != nil {
			return OrderView{}, err
		}
	}
	if customerID != "" {
		if _, err := s.validateParty(ctx, customerID, domain.UserRoleClient, "Customer"); err != nil {
			return OrderView{}, err
		}
	}
	if supplierID != "" {
		if _, err := s.validateParty(ctx, supplierID, domain.UserRoleSupplier, "Supplier"); err != nil {
			return OrderView{}, err
		}
	}

	updated := existing
	if productID != "" {
		updated.ProductID = productID
	}
	if customerID != "" {
		updated.CustomerID = customerID
	}
	if supplierID != "" {
		updated.SupplierID = supplierID
	}
	if updated.CustomerID == updated.SupplierID {
		return OrderView{}, invalidOrderInput("customer and supplier cannot be the same user")
	}
	if cmd.Quantity != nil {
		updated.Quantity = *cmd.Quantity
	}
	if cmd.Price != nil {
		updated.Price = *cmd.Price
	}
	if cmd.DeliveryInterval != nil {
		updated.DeliveryInterval = *cmd.DeliveryInterval
	}
	if cmd.DeliveryDay != nil {
		updated.DeliveryDay = *cmd.DeliveryDay
	}
	if status != "" {
		updated.Status = status
	}

	now := s.now()
	switch {
	case trimmedValue(cmd.NextDeliveryDate) != "":
		next, err := parseDeliveryDate(trimmedValue(cmd.NextDeliveryDate))
		if err != nil {
			return OrderView{}, err
		}
		updated.NextDeliveryDate = next.UTC()
	case cmd.AdvanceNext || status == domain.OrderStatusDelivered:
		updated.NextDeliveryDate = domain.AdvanceDeliveryDate(existing.NextDeliveryDate.In(s.location), updated.DeliveryInterval).UTC()
	case cmd.DeliveryInterval != nil || cmd.DeliveryDay != nil:
		updated.NextDeliveryDate = domain.ComputeNextDeliveryDate(now.In(s.location), updated.DeliveryDay, updated.DeliveryInterval).UTC()
	}
	updated.UpdatedAt = now

	if err := s.orders.Update(ctx, updated); err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderEventUpdated, updated)
	if status == domain.OrderStatusDelivered {
		s.publishEvent(ctx, orderEventDelivered, updated)
	}
	if status == domain.OrderStatusCanceled && existing.Status != domain.OrderStatusCanceled {
		s.publishEvent(ctx, orderEventCanceled, updated)
	}

	return s.newPopulator().populate(ctx, updated)
}

func (s *orderService) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if !domain.ValidID(orderID) {
		return invalidOrderInput("Invalid order ID")
	}
	existing, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, orderEventDeleted, existing)
	return nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if !domain.ValidID(orderID) {
		return domain.Order{}, invalidOrderInput("Invalid order ID")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: Order not found", ErrOrderNotFound)
		}
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) validateParty(ctx context.Context, userID string, role domain.UserRole, label string) (domain.User, error) {
	if !domain.ValidID(userID) {
		return domain.User{}, invalidOrderInput(fmt.Sprintf("Invalid %s ID", label))
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.User{}, fmt.Errorf("%w: %s not found", ErrOrderNotFound, label)
		}
		return domain.User{}, s.mapRepositoryError(err)
	}
	if user.Role != role {
		return domain.User{}, invalidOrderInput(fmt.Sprintf("%s must be a %s", label, role))
	}
	if !user.Active() {
		return domain.User{}, invalidOrderInput(fmt.Sprintf("%s is not active", label))
	}
	return user, nil
}

func (s *orderService) validateProduct(ctx context.Context, productID string) (domain.Product, error) {
	if !domain.ValidID(productID) {
		return domain.Product{}, invalidOrderInput("Invalid product ID")
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Product{}, fmt.Errorf("%w: Product not found", ErrOrderNotFound)
		}
		return domain.Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:             eventType,
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		SupplierID:       order.SupplierID,
		Status:           string(order.Status),
		NextDeliveryDate: order.NextDeliveryDate,
		OccurredAt:       s.now(),
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

// orderPopulator expands order references, memoising lookups for the duration of one call.
type orderPopulator struct {
	svc      *orderService
	users    map[string]*domain.OrderParty
	products map[string]*domain.OrderProduct
}

func (s *orderService) newPopulator() *orderPopulator {
	return &orderPopulator{
		svc:      s,
		users:    make(map[string]*domain.OrderParty),
		products: make(map[string]*domain.OrderProduct),
	}
}

func (p *orderPopulator) populate(ctx context.Context, order domain.Order) (OrderView, error) {
	view := OrderView{Order: order}
	var err error
	if view.Product, err = p.product(ctx, order.ProductID); err != nil {
		return OrderView{}, err
	}
	if view.Customer, err = p.party(ctx, order.CustomerID); err != nil {
		return OrderView{}, err
	}
	if view.Supplier, err = p.party(ctx, order.SupplierID); err != nil {
		return OrderView{}, err
	}
	return view, nil
}

func (p *orderPopulator) party(ctx context.Context, userID string) (*domain.OrderParty, error) {
	if userID == "" {
		return nil, nil
	}
	if party, ok := p.users[userID]; ok {
		return party, nil
	}
	user, err := p.svc.users.FindByID(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			p.users[userID] = nil
			return nil, nil
		}
		return nil, p.svc.mapRepositoryError(err)
	}
	party := domain.PartyFromUser(user)
	p.users[userID] = party
	return party, nil
}

func (p *orderPopulator) product(ctx context.Context, productID string) (*domain.OrderProduct, error) {
	if productID == "" {
		return nil, nil
	}
	if product, ok := p.products[productID]; ok {
		return product, nil
	}
	product, err := p.svc.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			p.products[productID] = nil
			return nil, nil
		}
		return nil, p.svc.mapRepositoryError(err)
	}
	ref := &domain.OrderProduct{ID: product.ID, Name: product.Name}
	p.products[productID] = ref
	return ref, nil
}

func matchesOrderFilter(order domain.Order, filter OrderListFilter, now time.Time) bool {
	if !inRange(order.Price, filter.Price) || !inRange(order.Quantity, filter.Quantity) {
		return false
	}
	if !inTimeRange(order.NextDeliveryDate, filter.NextDelivery) || !inTimeRange(order.CreatedAt, filter.Created) {
		return false
	}
	if filter.Upcoming && order.NextDeliveryDate.Before(now) {
		return false
	}
	return true
}

func inRange[T int | float64](value T, r domain.RangeQuery[T]) bool {
	if r.From != nil && value < *r.From {
		return false
	}
	if r.To != nil && value > *r.To {
		return false
	}
	return true
}

func inTimeRange(value time.Time, r domain.RangeQuery[time.Time]) bool {
	if r.From != nil && value.Before(*r.From) {
		return false
	}
	if r.To != nil && value.After(*r.To) {
		return false
	}
	return true
}

func sortOrders(orders []domain.Order, sortBy string) {
	field, direction := parseSort(sortBy)
	compare := orderSortFields[field]
	sort.SliceStable(orders, func(i, j int) bool {
		c := compare(orders[i], orders[j])
		if c == 0 {
			c = strings.Compare(orders[i].ID, orders[j].ID)
		}
		if direction == domain.SortAsc {
			return c < 0
		}
		return c > 0
	})
}

func parseSort(sortBy string) (string, domain.SortOrder) {
	field, dir, _ := strings.Cut(strings.TrimSpace(sortBy), ":")
	field = strings.TrimSpace(field)
	if _, ok := orderSortFields[field]; !ok {
		return defaultOrderSortField, domain.SortDesc
	}
	if strings.EqualFold(strings.TrimSpace(dir), string(domain.SortAsc)) {
		return field, domain.SortAsc
	}
	return field, domain.SortDesc
}

func normalisePage(page *int) int {
	if page == nil || *page < 1 {
		return defaultOrderPage
	}
	return *page
}

func normaliseLimit(limit *int) int {
	switch {
	case limit == nil || *limit == 0:
		return defaultOrderLimit
	case *limit < 1:
		return 1
	case *limit > maxOrderLimit:
		return maxOrderLimit
	default:
		return *limit
	}
}

func validateDeliveryFields(interval, day *int) error {
	if interval != nil && !domain.ValidDeliveryInterval(*interval) {
		return invalidOrderInput("Invalid deliveryInterval. Allowed: 1,2,3,4")
	}
	if day != nil && !domain.ValidDeliveryDay(*day) {
		return invalidOrderInput("Invalid deliveryDay. Allowed: 1..7 (Mon..Sun)")
	}
	return nil
}

func validateAmounts(quantity *int, price *float64) error {
	if quantity != nil && *quantity < 1 {
		return invalidOrderInput("quantity must be at least 1")
	}
	if price != nil && (*price < 0 || math.IsNaN(*price) || math.IsInf(*price, 0)) {
		return invalidOrderInput("price cannot be negative")
	}
	return nil
}

func parseStatus(raw string) (domain.OrderStatus, error) {
	status, ok := domain.ParseOrderStatus(raw)
	if !ok {
		return "", invalidOrderInput("Invalid status. Allowed: pending, delivered, canceled")
	}
	return status, nil
}

var deliveryDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDeliveryDate accepts RFC 3339 timestamps and bare dates; values without an offset are UTC.
func parseDeliveryDate(raw string) (time.Time, error) {
	for _, layout := range deliveryDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, invalidOrderInput("Invalid nextDeliveryDate")
}

func invalidOrderInput(message string) error {
	return fmt.Errorf("%w: %s", ErrOrderInvalidInput, message)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func trimmedValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func compareOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
