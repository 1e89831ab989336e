package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wricardo/koikoi/game/engine"
	"github.com/wricardo/koikoi/game/hanafuda"
	"github.com/wricardo/koikoi/game/matchmaking"
	"github.com/wricardo/koikoi/game/service"
)

// Client talks to the Koi-Koi REST API on behalf of one player.
type Client struct {
	baseURL  string
	playerID string
	client   *http.Client
}

func NewClient(baseURL, playerID string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		playerID: playerID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status      int
	Message     string       `json:"error"`
	Code        service.Code `json:"code"`
	Recoverable bool         `json:"recoverable"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) Join(ctx context.Context, roomType, gameID string) (*service.JoinResult, error) {
	var res service.JoinResult
	err := c.do(ctx, "POST", "/api/games/join", service.JoinRequest{
		PlayerID: c.playerID,
		RoomType: roomType,
		GameID:   gameID,
	}, &res)
	return &res, err
}

func (c *Client) Snapshot(ctx context.Context, gameID string) (*service.Snapshot, error) {
	var snap service.Snapshot
	path := fmt.Sprintf("/api/games/%s?player_id=%s", url.PathEscape(gameID), url.QueryEscape(c.playerID))
	err := c.do(ctx, "GET", path, nil, &snap)
	return &snap, err
}

type cardBody struct {
	PlayerID string         `json:"player_id"`
	Card     *hanafuda.Card `json:"card,omitempty"`
	Source   *hanafuda.Card `json:"source,omitempty"`
	Target   *hanafuda.Card `json:"target,omitempty"`
}

func (c *Client) Play(ctx context.Context, gameID string, card hanafuda.Card, target *hanafuda.Card) error {
	return c.do(ctx, "POST", "/api/games/"+url.PathEscape(gameID)+"/play",
		cardBody{PlayerID: c.playerID, Card: &card, Target: target}, nil)
}

func (c *Client) Select(ctx context.Context, gameID string, source, target hanafuda.Card) error {
	return c.do(ctx, "POST", "/api/games/"+url.PathEscape(gameID)+"/select",
		cardBody{PlayerID: c.playerID, Source: &source, Target: &target}, nil)
}

func (c *Client) Decide(ctx context.Context, gameID string, d engine.Decision) error {
	return c.do(ctx, "POST", "/api/games/"+url.PathEscape(gameID)+"/decide",
		service.DecisionRequest{PlayerID: c.playerID, Decision: d}, nil)
}

func (c *Client) Continue(ctx context.Context, gameID string, choice service.ContinueChoice) error {
	return c.do(ctx, "POST", "/api/games/"+url.PathEscape(gameID)+"/continue",
		service.ContinueRequest{PlayerID: c.playerID, Choice: choice}, nil)
}

func (c *Client) EnterMatchmaking(ctx context.Context, roomType string) (*matchmaking.Entry, error) {
	var entry matchmaking.Entry
	err := c.do(ctx, "POST", "/api/matchmaking", matchmaking.EnterRequest{
		PlayerID: c.playerID,
		RoomType: roomType,
	}, &entry)
	return &entry, err
}

// ProcessMatchmaking advances the entry. Once the entry has left the queue
// the server answers NOT_IN_QUEUE and the stored entry is fetched instead.
func (c *Client) ProcessMatchmaking(ctx context.Context, entryID string) (*matchmaking.Entry, error) {
	var entry matchmaking.Entry
	path := "/api/matchmaking/" + url.PathEscape(entryID)
	err := c.do(ctx, "POST", path+"/process", map[string]string{"player_id": c.playerID}, &entry)
	if apiErr, ok := err.(*APIError); ok && apiErr.Code == service.Code(matchmaking.CodeNotInQueue) {
		err = c.do(ctx, "GET", path, nil, &entry)
	}
	return &entry, err
}
