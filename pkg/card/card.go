// Package card implements the DingTalk AI-card streaming state machine of
// §4.J: CREATED → INPUTING → (stream updates) → FINISHED, backed by the
// documented card REST endpoints. No teacher file in the retrieval pack
// implements DingTalk card streaming; this package is grounded on the
// general "authenticated REST call to platform API" idiom observed in the
// pack's WeCom response-URL sender and QQ's botgo openapi client.
package card

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type State string

const (
	StateNone     State = ""
	StateCreated  State = "CREATED"
	StateInputing State = "INPUTING"
	StateFinished State = "FINISHED"
	StateFailed   State = "FAILED"
)

var (
	ErrAlreadyFinished = errors.New("card already finished")
	ErrCardFailure      = errors.New("card api failure")
)

const minStreamInterval = 300 * time.Millisecond

// HTTPDoer is the subset of *http.Client the card API client needs;
// satisfied directly by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the documented DingTalk card endpoints.
type Client struct {
	HTTP        HTTPDoer
	BaseURL     string // defaults to https://api.dingtalk.com
	AccessToken func(ctx context.Context) (string, error)
}

func NewClient(doer HTTPDoer, accessToken func(ctx context.Context) (string, error)) *Client {
	return &Client{HTTP: doer, BaseURL: "https://api.dingtalk.com", AccessToken: accessToken}
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCardFailure, err)
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrCardFailure, err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrCardFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-acs-dingtalk-access-token", token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCardFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrCardFailure, resp.StatusCode)
	}
	return nil
}

type createInstanceRequest struct {
	OutTrackID   string         `json:"outTrackId"`
	CardTemplate string         `json:"cardTemplateId"`
	CardData     map[string]any `json:"cardData"`
}

type deliverRequest struct {
	OutTrackID string `json:"outTrackId"`
	OpenSpaceID string `json:"openSpaceId"`
}

type streamingRequest struct {
	OutTrackID  string `json:"outTrackId"`
	Guid        string `json:"guid"`
	Key         string `json:"key"`
	Content     string `json:"content"`
	IsFull      bool   `json:"isFull"`
	IsFinalize  bool   `json:"isFinalize"`
	IsError     bool   `json:"isError"`
}

type updateInstanceRequest struct {
	OutTrackID string         `json:"outTrackId"`
	CardData   map[string]any `json:"cardData"`
}

// Card tracks one live streaming card.
type Card struct {
	OutTrackID  string
	OpenSpaceID string

	mu        sync.Mutex
	state     State
	content   string
	limiter   *rate.Limiter
	lastSent  time.Time
}

// Streamer manages the set of live cards for one DingTalk account.
type Streamer struct {
	client *Client

	mu    sync.Mutex
	cards map[string]*Card
}

func NewStreamer(client *Client) *Streamer {
	return &Streamer{client: client, cards: make(map[string]*Card)}
}

// Create implements the CREATED transition: POST /v1.0/card/instances
// followed by POST /v1.0/card/instances/deliver.
func (s *Streamer) Create(ctx context.Context, outTrackID, openSpaceID, templateID string) (*Card, error) {
	if err := s.client.do(ctx, http.MethodPost, "/v1.0/card/instances", createInstanceRequest{
		OutTrackID:   outTrackID,
		CardTemplate: templateID,
	}); err != nil {
		return nil, err
	}
	if err := s.client.do(ctx, http.MethodPost, "/v1.0/card/instances/deliver", deliverRequest{
		OutTrackID:  outTrackID,
		OpenSpaceID: openSpaceID,
	}); err != nil {
		return nil, err
	}

	c := &Card{
		OutTrackID:  outTrackID,
		OpenSpaceID: openSpaceID,
		state:       StateCreated,
		limiter:     rate.NewLimiter(rate.Every(minStreamInterval), 1),
	}
	s.mu.Lock()
	s.cards[outTrackID] = c
	s.mu.Unlock()
	return c, nil
}

// Stream implements the INPUTING/streaming transitions. The first call on a
// card PUTs INPUTING before the first stream update; subsequent updates are
// throttled to one per ≥300ms. isFinalize=true both streams the final
// content and PUTs FINISHED. Calling Stream again after FINISHED is a safe
// no-op, per the idempotence law in §8.
func (s *Streamer) Stream(ctx context.Context, c *Card, content string, isFinalize bool) error {
	c.mu.Lock()
	if c.state == StateFinished || c.state == StateFailed {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateCreated {
		c.mu.Unlock()
		if err := s.client.do(ctx, http.MethodPut, "/v1.0/card/instances", updateInstanceRequest{
			OutTrackID: c.OutTrackID,
			CardData:   map[string]any{"status": string(StateInputing)},
		}); err != nil {
			s.fail(c)
			return err
		}
		c.mu.Lock()
		c.state = StateInputing
	}
	c.content = content
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: throttle wait: %v", ErrCardFailure, err)
	}

	if err := s.client.do(ctx, http.MethodPut, "/v1.0/card/streaming", streamingRequest{
		OutTrackID: c.OutTrackID,
		Guid:       uuid.NewString(),
		Key:        "content",
		Content:    content,
		IsFull:     true,
		IsFinalize: isFinalize,
	}); err != nil {
		s.fail(c)
		return err
	}

	if isFinalize {
		if err := s.client.do(ctx, http.MethodPut, "/v1.0/card/instances", updateInstanceRequest{
			OutTrackID: c.OutTrackID,
			CardData:   map[string]any{"status": string(StateFinished)},
		}); err != nil {
			s.fail(c)
			return err
		}
		c.mu.Lock()
		c.state = StateFinished
		c.mu.Unlock()
	}
	return nil
}

// FinishWithError implements the CardFailure fallback from §7: finish the
// card with an error banner rather than leave it stuck mid-stream.
func (s *Streamer) FinishWithError(ctx context.Context, c *Card, banner string) error {
	c.mu.Lock()
	if c.state == StateFinished {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_ = s.client.do(ctx, http.MethodPut, "/v1.0/card/streaming", streamingRequest{
		OutTrackID: c.OutTrackID,
		Guid:       uuid.NewString(),
		Key:        "content",
		Content:    banner,
		IsFull:     true,
		IsFinalize: true,
		IsError:    true,
	})
	err := s.client.do(ctx, http.MethodPut, "/v1.0/card/instances", updateInstanceRequest{
		OutTrackID: c.OutTrackID,
		CardData:   map[string]any{"status": string(StateFailed)},
	})
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	return err
}

func (s *Streamer) fail(c *Card) {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

// State returns the card's current state.
func (c *Card) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
