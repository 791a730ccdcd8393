// Package crmapi is the HTTP client for a remote velosta backend. It serves
// the same collaborator contract as the local sqlite store.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"velosta/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	cacheKeyBikes      = "velosta:bikes"
	cacheKeyBikePrefix = "velosta:bike:"
)

// Client calls the backend REST API.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
	limiter    *rate.Limiter

	redis    *redis.Client
	cacheTTL time.Duration

	logger zerolog.Logger
}

// ErrorBody is the JSON error payload of the backend.
type ErrorBody struct {
	Error             string         `json:"error"`
	Field             string         `json:"field,omitempty"`
	NextAvailableDate *time.Time     `json:"nextAvailableDate,omitempty"`
	ReturnInDays      *int           `json:"returnInDays,omitempty"`
	CurrentBooking    *model.Booking `json:"currentBooking,omitempty"`
}

// NewClient constructs a client with baseURL, API key and extra header.
func NewClient(baseURL, apiKey, apiExtra string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "crmapi").Logger(),
	}
}

// UseRedisCache configures optional Redis caching for bike reads.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseRateLimit caps outgoing requests. Callers wait for a token rather than
// being rejected.
func (c *Client) UseRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ListBikes returns the fleet, from the redis cache when one is configured.
func (c *Client) ListBikes(ctx context.Context) ([]model.Bike, error) {
	return c.listBikes(ctx, true)
}

// GetBike returns one bike, from the redis cache when one is configured.
func (c *Client) GetBike(ctx context.Context, id string) (*model.Bike, error) {
	return c.getBike(ctx, id, true)
}

// Fresh returns a view of the fleet that always asks the backend. Booking
// decisions price and admit against it, so rate and status changes made by
// other clients count immediately.
func (c *Client) Fresh() *FreshBikes {
	return &FreshBikes{client: c}
}

// FreshBikes reads bikes from the backend, bypassing the cache.
type FreshBikes struct {
	client *Client
}

// ListBikes returns the fleet as the backend reports it now.
func (f *FreshBikes) ListBikes(ctx context.Context) ([]model.Bike, error) {
	return f.client.listBikes(ctx, false)
}

// GetBike returns one bike as the backend reports it now.
func (f *FreshBikes) GetBike(ctx context.Context, id string) (*model.Bike, error) {
	return f.client.getBike(ctx, id, false)
}

func (c *Client) listBikes(ctx context.Context, cached bool) ([]model.Bike, error) {
	var wrap struct {
		Bikes []model.Bike `json:"bikes"`
	}
	if cached && c.readCache(ctx, cacheKeyBikes, &wrap) {
		return wrap.Bikes, nil
	}

	if err := c.call(ctx, "list bikes", http.MethodGet, "/api/bikes", nil, &wrap, nil); err != nil {
		return nil, err
	}
	for i := range wrap.Bikes {
		if err := checkBike(&wrap.Bikes[i]); err != nil {
			return nil, &model.TransportError{Op: "list bikes", StatusCode: http.StatusOK, Err: err}
		}
	}
	c.writeCache(ctx, cacheKeyBikes, wrap)
	return wrap.Bikes, nil
}

func (c *Client) getBike(ctx context.Context, id string, cached bool) (*model.Bike, error) {
	var bike model.Bike
	key := cacheKeyBikePrefix + id
	if cached && c.readCache(ctx, key, &bike) {
		return &bike, nil
	}

	path := "/api/bikes/" + url.PathEscape(id)
	if err := c.call(ctx, "get bike", http.MethodGet, path, nil, &bike, model.BikeNotFound(id)); err != nil {
		return nil, err
	}
	if err := checkBike(&bike); err != nil {
		return nil, &model.TransportError{Op: "get bike", StatusCode: http.StatusOK, Err: err}
	}
	c.writeCache(ctx, key, bike)
	return &bike, nil
}

// GetBikeAvailability asks the backend for its own availability snapshot.
func (c *Client) GetBikeAvailability(ctx context.Context, id string) (*model.AvailabilitySnapshot, error) {
	var snap model.AvailabilitySnapshot
	path := "/api/bikes/" + url.PathEscape(id) + "/availability"
	if err := c.call(ctx, "get bike availability", http.MethodGet, path, nil, &snap, model.BikeNotFound(id)); err != nil {
		return nil, err
	}
	if !snap.IsAvailableNow && snap.NextAvailableDate == nil {
		return nil, &model.TransportError{
			Op:         "get bike availability",
			StatusCode: http.StatusOK,
			Err:        errors.New("unavailable bike without nextAvailableDate"),
		}
	}
	return &snap, nil
}

// CreateBike adds a bike.
func (c *Client) CreateBike(ctx context.Context, b *model.Bike) (*model.Bike, error) {
	var out model.Bike
	if err := c.call(ctx, "create bike", http.MethodPost, "/api/bikes", b, &out, nil); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, out.ID)
	return &out, nil
}

// UpdateBike replaces a bike's attributes.
func (c *Client) UpdateBike(ctx context.Context, b *model.Bike) (*model.Bike, error) {
	var out model.Bike
	path := "/api/bikes/" + url.PathEscape(b.ID)
	if err := c.call(ctx, "update bike", http.MethodPut, path, b, &out, model.BikeNotFound(b.ID)); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, b.ID)
	return &out, nil
}

// ToggleMaintenance flips the maintenance flag of a bike.
func (c *Client) ToggleMaintenance(ctx context.Context, id string) (*model.Bike, error) {
	var out model.Bike
	path := "/api/bikes/" + url.PathEscape(id) + "/maintenance"
	if err := c.call(ctx, "toggle maintenance", http.MethodPatch, path, nil, &out, model.BikeNotFound(id)); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, id)
	return &out, nil
}

// SetBikeStatus stores AVAILABLE or MAINTENANCE on the backend.
func (c *Client) SetBikeStatus(ctx context.Context, id string, status model.BikeStatus) (*model.Bike, error) {
	var out model.Bike
	path := "/api/bikes/" + url.PathEscape(id) + "/status"
	body := map[string]string{"status": string(status)}
	if err := c.call(ctx, "set bike status", http.MethodPatch, path, body, &out, model.BikeNotFound(id)); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, id)
	return &out, nil
}

// DeleteBike removes a bike.
func (c *Client) DeleteBike(ctx context.Context, id string) error {
	path := "/api/bikes/" + url.PathEscape(id)
	if err := c.call(ctx, "delete bike", http.MethodDelete, path, nil, nil, model.BikeNotFound(id)); err != nil {
		return err
	}
	c.invalidateBike(ctx, id)
	return nil
}

// ListBookings lists bookings. The backend filters by bike and status; the
// result is filtered again locally.
func (c *Client) ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	q := url.Values{}
	if filter.BikeID != "" {
		q.Set("bikeId", filter.BikeID)
	}
	if len(filter.Statuses) > 0 {
		parts := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			parts[i] = strings.ToLower(string(s))
		}
		q.Set("status", strings.Join(parts, ","))
	}
	path := "/api/bookings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var wrap struct {
		Bookings []model.Booking `json:"bookings"`
	}
	if err := c.call(ctx, "list bookings", http.MethodGet, path, nil, &wrap, nil); err != nil {
		return nil, err
	}

	out := make([]model.Booking, 0, len(wrap.Bookings))
	for i := range wrap.Bookings {
		b := &wrap.Bookings[i]
		if err := checkBooking(b); err != nil {
			return nil, &model.TransportError{Op: "list bookings", StatusCode: http.StatusOK, Err: err}
		}
		if filter.Matches(b) {
			out = append(out, *b)
		}
	}
	return out, nil
}

// GetBooking returns one booking.
func (c *Client) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var out model.Booking
	path := "/api/bookings/" + url.PathEscape(id)
	if err := c.call(ctx, "get booking", http.MethodGet, path, nil, &out, model.BookingNotFound(id)); err != nil {
		return nil, err
	}
	if err := checkBooking(&out); err != nil {
		return nil, &model.TransportError{Op: "get booking", StatusCode: http.StatusOK, Err: err}
	}
	return &out, nil
}

// CreateBooking submits a booking. The backend answers 409 for overlaps.
func (c *Client) CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	var out model.Booking
	if err := c.call(ctx, "create booking", http.MethodPost, "/api/bookings", bookingRequest(b), &out, model.BikeNotFound(b.BikeID)); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, b.BikeID)
	return &out, nil
}

// UpdateBooking replaces the terms of a booking.
func (c *Client) UpdateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	var out model.Booking
	path := "/api/bookings/" + url.PathEscape(b.ID)
	if err := c.call(ctx, "update booking", http.MethodPut, path, bookingRequest(b), &out, model.BookingNotFound(b.ID)); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, b.BikeID)
	return &out, nil
}

// ReturnBooking closes a booking with an optional extra payment.
func (c *Client) ReturnBooking(ctx context.Context, id string, additionalPayment int64) (*model.Booking, error) {
	var out model.Booking
	path := "/api/bookings/" + url.PathEscape(id) + "/returned"
	body := map[string]int64{"additionalPayment": additionalPayment}
	if err := c.call(ctx, "return booking", http.MethodPatch, path, body, &out, model.BookingNotFound(id)); err != nil {
		return nil, err
	}
	c.invalidateBike(ctx, out.BikeID)
	return &out, nil
}

// DeleteBooking removes a booking.
func (c *Client) DeleteBooking(ctx context.Context, id string) error {
	path := "/api/bookings/" + url.PathEscape(id)
	if err := c.call(ctx, "delete booking", http.MethodDelete, path, nil, nil, model.BookingNotFound(id)); err != nil {
		return err
	}
	c.invalidateBike(ctx, "")
	return nil
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.TransportError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &model.TransportError{Op: "ping", StatusCode: resp.StatusCode, Err: errors.New("health check failed")}
	}
	return nil
}

// bookingPayload is what the backend accepts on create and update.
type bookingPayload struct {
	BikeID       string    `json:"bikeId"`
	CustomerName string    `json:"customerName"`
	Phone        string    `json:"phone"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	TotalAmount  int64     `json:"totalAmount"`
	PaidAmount   int64     `json:"paidAmount"`
	Notes        string    `json:"notes,omitempty"`
	Version      int64     `json:"version,omitempty"`
}

func bookingRequest(b *model.Booking) bookingPayload {
	return bookingPayload{
		BikeID:       b.BikeID,
		CustomerName: b.CustomerName,
		Phone:        b.Phone,
		StartDate:    b.StartDate.UTC(),
		EndDate:      b.EndDate.UTC(),
		TotalAmount:  b.TotalAmount,
		PaidAmount:   b.PaidAmount,
		Notes:        b.Notes,
		Version:      b.Version,
	}
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any, notFound *model.NotFoundError) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &model.TransportError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.decodeError(op, resp, notFound)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) decodeError(op string, resp *http.Response, notFound *model.NotFoundError) error {
	var body ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &body)
	if body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		field := body.Field
		if field == "" {
			field = "request"
		}
		return model.NewValidationError(field, body.Error)
	case http.StatusNotFound:
		if notFound != nil {
			return notFound
		}
	case http.StatusConflict:
		if body.NextAvailableDate == nil {
			return &model.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("conflict without nextAvailableDate")}
		}
		c.logger.Debug().Str("op", op).Time("next_available", *body.NextAvailableDate).Msg("backend reported conflict")
		return &model.ConflictError{NextAvailableDate: *body.NextAvailableDate, Booking: body.CurrentBooking}
	}
	return &model.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(body.Error)}
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

// invalidateBike drops cached bike reads. Booking writes change the derived
// bike status, so they invalidate too.
func (c *Client) invalidateBike(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	keys := []string{cacheKeyBikes}
	if id != "" {
		keys = append(keys, cacheKeyBikePrefix+id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache invalidation failed")
	}
}

func checkBike(b *model.Bike) error {
	if b.ID == "" {
		return errors.New("bike without id")
	}
	if b.Status != "" && !b.Status.Valid() {
		return fmt.Errorf("bike %s: unknown status %q", b.ID, b.Status)
	}
	return nil
}

func checkBooking(b *model.Booking) error {
	if b.ID == "" || b.BikeID == "" {
		return errors.New("booking without id or bikeId")
	}
	if !b.Status.Valid() {
		return fmt.Errorf("booking %s: unknown status %q", b.ID, b.Status)
	}
	if b.EndDate.Before(b.StartDate) {
		return fmt.Errorf("booking %s: end before start", b.ID)
	}
	return nil
}
