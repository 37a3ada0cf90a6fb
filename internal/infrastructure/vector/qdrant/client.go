package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/infrastructure/resilience"
)

// Payload keys written by the ingestion side.
const (
	payloadDocumentID    = "document_id"
	payloadDocumentTitle = "document_title"
	payloadChunkID       = "chunk_id"
	payloadOrdinal       = "ordinal"
	payloadText          = "text"
	payloadMission       = "mission"
	payloadAllowedRoles  = "allowed_roles"
)

// Client is a read-only VectorIndex over one Qdrant collection.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, collection, apiKey string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

type searchPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	predicate domain.AccessPredicate,
	limit int,
) ([]domain.RetrievedChunk, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter := accessFilter(predicate); filter != nil {
		reqBody["filter"] = filter
	}

	var searchResp struct {
		Result []searchPoint `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	err := c.call(ctx, "search", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPost, url, reqBody, &searchResp, "search")
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedChunk, 0, len(searchResp.Result))
	for _, p := range searchResp.Result {
		out = append(out, toRetrievedChunk(p))
	}
	return out, nil
}

// VectorDimension reads the configured vector size of the collection.
func (c *Client) VectorDimension(ctx context.Context) (int, error) {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.call(ctx, "collection_info", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodGet, url, nil, &info, "collection info")
	})
	if err != nil {
		return 0, err
	}
	return vectorSize(info.Result.Config.Params.Vectors)
}

// vectorSize handles both the single unnamed vector form {"size":768} and the
// named form {"default":{"size":768}} when exactly one vector is configured.
func vectorSize(raw json.RawMessage) (int, error) {
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Size > 0 {
		return single.Size, nil
	}
	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && len(named) == 1 {
		for _, v := range named {
			if v.Size > 0 {
				return v.Size, nil
			}
		}
	}
	return 0, fmt.Errorf("qdrant collection has no single vector size")
}

// accessFilter pushes the mission and role predicate down to Qdrant. Points
// without a mission or without allowed_roles stay visible. Keyword matches are
// case-sensitive, so the role is matched in its common spellings.
func accessFilter(p domain.AccessPredicate) map[string]any {
	var must []map[string]any
	if !p.AllMissions {
		missionVisible := []map[string]any{
			{"is_empty": map[string]any{"key": payloadMission}},
			{"key": payloadMission, "match": map[string]any{"value": ""}},
		}
		if len(p.Missions) > 0 {
			missionVisible = append(missionVisible, map[string]any{
				"key":   payloadMission,
				"match": map[string]any{"any": p.Missions},
			})
		}
		must = append(must, map[string]any{"should": missionVisible})
	}
	if p.Role != "" && p.Role != domain.RoleAdmin {
		must = append(must, map[string]any{"should": []map[string]any{
			{"is_empty": map[string]any{"key": payloadAllowedRoles}},
			{"key": payloadAllowedRoles, "match": map[string]any{"any": roleSpellings(p.Role)}},
		}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func roleSpellings(role domain.Role) []string {
	lower := strings.ToLower(string(role))
	spellings := []string{lower}
	for _, s := range []string{strings.ToUpper(lower[:1]) + lower[1:], strings.ToUpper(lower)} {
		if !slices.Contains(spellings, s) {
			spellings = append(spellings, s)
		}
	}
	return spellings
}

func toRetrievedChunk(p searchPoint) domain.RetrievedChunk {
	chunkID := getStringPayload(p.Payload, payloadChunkID)
	if chunkID == "" {
		chunkID = fmt.Sprintf("%v", p.ID)
	}
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{
			ID:            chunkID,
			DocumentID:    getStringPayload(p.Payload, payloadDocumentID),
			DocumentTitle: getStringPayload(p.Payload, payloadDocumentTitle),
			Text:          getStringPayload(p.Payload, payloadText),
			Embedding:     p.Vector,
			Ordinal:       getIntPayload(p.Payload, payloadOrdinal),
			Mission:       getStringPayload(p.Payload, payloadMission),
			AllowedRoles:  getStringSlicePayload(p.Payload, payloadAllowedRoles),
		},
		Similarity: p.Score,
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newStatusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.executor == nil {
		err = fn(ctx)
	} else {
		err = c.executor.Execute(ctx, "qdrant."+operation, fn, classifyQdrantError)
	}
	return wrapTemporaryIfNeeded("qdrant."+operation, err)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func getStringSlicePayload(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
