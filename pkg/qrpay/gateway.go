// Package qrpay keeps bank-transfer QR payment sessions in Redis. A session is
// created when the cashier opens the QR dialog and polled until the bank
// confirmation flips it to success.
package qrpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status of a QR session
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
)

// ErrSessionNotFound is returned when the session expired or never existed
var ErrSessionNotFound = errors.New("qr payment session not found")

// Line is one seat paid by the QR transfer
type Line struct {
	TripID string  `json:"tripId"`
	SeatID string  `json:"seatId"`
	Amount float64 `json:"amount"`
}

// Payload is what the QR encodes plus the seats it settles
type Payload struct {
	BookingID     string  `json:"bookingId"`
	Amount        float64 `json:"amount"`
	Content       string  `json:"content"`
	BankCode      string  `json:"bankCode"`
	AccountNumber string  `json:"accountNumber"`
	Lines         []Line  `json:"lines"`
}

// Session is a stored QR payment
type Session struct {
	Payload
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

// Gateway is the QR payment session store
type Gateway interface {
	Create(ctx context.Context, payload Payload) (*Session, error)
	Get(ctx context.Context, bookingID string) (*Session, error)
	Delete(ctx context.Context, bookingID string) error
	// SimulateSuccess marks the session paid without a bank callback
	SimulateSuccess(ctx context.Context, bookingID string) (*Session, error)
}

// TransferContent builds the memo the customer types into the transfer
func TransferContent(bookingID string) string {
	code := bookingID
	if len(code) > 6 {
		code = code[len(code)-6:]
	}
	return "VE " + strings.ToUpper(code)
}

func newSession(payload Payload) *Session {
	if payload.Content == "" {
		payload.Content = TransferContent(payload.BookingID)
	}
	return &Session{Payload: payload, Status: StatusPending, CreatedAt: time.Now()}
}

// RedisGateway stores sessions as JSON strings with a TTL
type RedisGateway struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisGateway creates a gateway over an existing client
func NewRedisGateway(client *redis.Client, ttl time.Duration) *RedisGateway {
	return &RedisGateway{client: client, ttl: ttl, prefix: "qrpay:"}
}

// NewRedisClient connects to Redis and pings it with a short timeout
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (g *RedisGateway) key(bookingID string) string {
	return g.prefix + bookingID
}

// Create replaces any existing session for the booking
func (g *RedisGateway) Create(ctx context.Context, payload Payload) (*Session, error) {
	session := newSession(payload)
	if err := g.save(ctx, session, g.ttl); err != nil {
		return nil, err
	}
	return session, nil
}

func (g *RedisGateway) Get(ctx context.Context, bookingID string) (*Session, error) {
	raw, err := g.client.Get(ctx, g.key(bookingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read qr session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode qr session: %w", err)
	}
	return &session, nil
}

func (g *RedisGateway) Delete(ctx context.Context, bookingID string) error {
	if err := g.client.Del(ctx, g.key(bookingID)).Err(); err != nil {
		return fmt.Errorf("failed to delete qr session: %w", err)
	}
	return nil
}

func (g *RedisGateway) SimulateSuccess(ctx context.Context, bookingID string) (*Session, error) {
	session, err := g.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	markPaid(session)

	ttl, err := g.client.TTL(ctx, g.key(bookingID)).Result()
	if err != nil || ttl <= 0 {
		ttl = g.ttl
	}
	if err := g.save(ctx, session, ttl); err != nil {
		return nil, err
	}
	return session, nil
}

func (g *RedisGateway) save(ctx context.Context, session *Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode qr session: %w", err)
	}
	if err := g.client.Set(ctx, g.key(session.BookingID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store qr session: %w", err)
	}
	return nil
}

func markPaid(session *Session) {
	now := time.Now()
	session.Status = StatusSuccess
	session.PaidAt = &now
}

// MemoryGateway keeps sessions in process memory
type MemoryGateway struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryGateway creates an empty in-process gateway
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{sessions: make(map[string]Session)}
}

func (g *MemoryGateway) Create(_ context.Context, payload Payload) (*Session, error) {
	session := newSession(payload)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[payload.BookingID] = *session
	return session, nil
}

func (g *MemoryGateway) Get(_ context.Context, bookingID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[bookingID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (g *MemoryGateway) Delete(_ context.Context, bookingID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, bookingID)
	return nil
}

func (g *MemoryGateway) SimulateSuccess(_ context.Context, bookingID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[bookingID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	markPaid(&session)
	g.sessions[bookingID] = session
	return &session, nil
}

var (
	_ Gateway = (*RedisGateway)(nil)
	_ Gateway = (*MemoryGateway)(nil)
)
