package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// Options 网关配置
type Options struct {
	Endpoint         string        // 如 "https://xxx.appsync-api.us-east-2.amazonaws.com"
	Path             string        // 默认 "/graphql"
	RealtimeURL      string        // 订阅 WebSocket 地址
	Timeout          time.Duration // 单次请求超时
	RetryCount       int           // 仅针对网络错误重试
	HandshakeTimeout time.Duration // 订阅握手超时
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType,omitempty"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphQLError             `json:"errors"`
}

// Client 托管 GraphQL API 客户端
// 所有调用都会重新获取凭证，失败以 *Error 返回，不在本层吞掉
type Client struct {
	httpClient *resty.Client
	opts       Options
	creds      CredentialProvider
	logger     *zap.Logger
}

// NewClient 创建网关客户端
func NewClient(opts Options, creds CredentialProvider, logger *zap.Logger) *Client {
	if opts.Path == "" {
		opts.Path = "/graphql"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(opts.Endpoint).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		opts:       opts,
		creds:      creds,
		logger:     logger,
	}
}

// token 获取当前凭证；没有凭证时返回空字符串并记录告警
func (c *Client) token(ctx context.Context, op string) (string, error) {
	if c.creds == nil {
		return "", nil
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return "", newError(op, KindUnauthorized, err)
	}
	if token == "" {
		c.logger.Warn("No credential available, calling without Authorization header",
			zap.String("op", op),
		)
	}
	return token, nil
}

// do 执行一次 GraphQL 请求，将 data[field] 解码到 out
func (c *Client) do(ctx context.Context, op, field, query string, vars map[string]interface{}, out interface{}) error {
	token, err := c.token(ctx, op)
	if err != nil {
		return err
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetBody(graphQLRequest{Query: query, Variables: vars})
	if token != "" {
		req.SetHeader("Authorization", token)
	}

	resp, err := req.Post(c.opts.Path)
	if err != nil {
		c.logger.Error("GraphQL request failed",
			zap.String("op", op),
			zap.Error(err),
		)
		return newError(op, KindTransport, err)
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Op: op, Kind: KindUnauthorized, StatusCode: status, Err: errors.New(strings.TrimSpace(string(resp.Body())))}
	case resp.IsError():
		return &Error{Op: op, Kind: KindTransport, StatusCode: status, Err: fmt.Errorf("unexpected response: %s", resp.Status())}
	}

	var body graphQLResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return newError(op, KindTransport, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(body.Errors) > 0 {
		return graphQLFailure(op, body.Errors)
	}
	if out == nil {
		return nil
	}

	raw, ok := body.Data[field]
	if !ok {
		return newError(op, KindGraphQL, fmt.Errorf("response missing field %s", field))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(op, KindGraphQL, fmt.Errorf("failed to decode %s: %w", field, err))
	}
	return nil
}

func graphQLFailure(op string, errs []graphQLError) *Error {
	msgs := make([]string, 0, len(errs))
	kind := KindGraphQL
	for _, e := range errs {
		msgs = append(msgs, e.Message)
		if strings.Contains(e.ErrorType, "Unauthorized") {
			kind = KindUnauthorized
		}
	}
	return newError(op, kind, errors.New(strings.Join(msgs, "; ")))
}

// ListPage 分页查询某设备的读数
func (c *Client) ListPage(ctx context.Context, deviceID string, limit int, nextToken *string) (*models.ReadingPage, error) {
	vars := map[string]interface{}{
		"filter": map[string]interface{}{
			"deviceId": map[string]interface{}{"eq": deviceID},
		},
		"limit": limit,
	}
	if nextToken != nil {
		vars["nextToken"] = *nextToken
	}

	var page models.ReadingPage
	if err := c.do(ctx, "listWatchData", "listWatchData", listWatchDataQuery, vars, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetCaretaker 按用户名查询看护人，不存在时返回 nil, nil
func (c *Client) GetCaretaker(ctx context.Context, username string) (*models.Caretaker, error) {
	var caretaker *models.Caretaker
	vars := map[string]interface{}{"username": username}
	if err := c.do(ctx, "getCaretakerByUsername", "getCaretakerByUsername", getCaretakerByUsernameQuery, vars, &caretaker); err != nil {
		return nil, err
	}
	return caretaker, nil
}

// GetAssignment 查询看护人的设备分配，不存在时返回 nil, nil
func (c *Client) GetAssignment(ctx context.Context, username string) (*models.Assignment, error) {
	caretaker, err := c.GetCaretaker(ctx, username)
	if err != nil {
		return nil, err
	}
	return caretaker.ToAssignment(), nil
}

// ApplyMutation 执行一次变更，结果解码到 out（可为 nil）
func (c *Client) ApplyMutation(ctx context.Context, kind MutationKind, input map[string]interface{}, out interface{}) error {
	doc, ok := mutationDocuments[kind]
	if !ok {
		return newError(string(kind), KindValidation, fmt.Errorf("unknown mutation %q", kind))
	}
	vars := map[string]interface{}{"input": input}
	if err := c.do(ctx, string(kind), string(kind), doc, vars, out); err != nil {
		return err
	}

	c.logger.Info("Mutation applied",
		zap.String("mutation", string(kind)),
	)
	return nil
}

// CreateReading 创建手动测试读数
func (c *Client) CreateReading(ctx context.Context, r models.Reading) (*models.Reading, error) {
	r, err := models.PrepareReading(r, time.Now())
	if err != nil {
		return nil, newError(string(MutationCreateReading), KindValidation, err)
	}
	input := map[string]interface{}{
		"deviceId":  r.DeviceID,
		"timestamp": r.Timestamp,
		"heartRate": r.HeartRate,
		"motion":    r.Motion,
		"isMoving":  r.IsMoving,
	}
	if r.Status != "" {
		input["status"] = string(r.Status)
	}

	var created models.Reading
	if err := c.ApplyMutation(ctx, MutationCreateReading, input, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateReading 部分更新读数，只提交已提供字段
func (c *Client) UpdateReading(ctx context.Context, patch models.ReadingPatch) (*models.Reading, error) {
	if err := patch.Validate(); err != nil {
		return nil, newError(string(MutationUpdateReading), KindValidation, err)
	}
	var updated models.Reading
	if err := c.ApplyMutation(ctx, MutationUpdateReading, patch.ToInput(), &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteReading 删除读数
func (c *Client) DeleteReading(ctx context.Context, key models.ReadingKey) (*models.Reading, error) {
	if key.DeviceID == "" || key.Timestamp == "" {
		return nil, newError(string(MutationDeleteReading), KindValidation,
			&models.ValidationError{Message: "deviceId and timestamp are required"})
	}
	input := map[string]interface{}{"deviceId": key.DeviceID, "timestamp": key.Timestamp}
	var deleted *models.Reading
	if err := c.ApplyMutation(ctx, MutationDeleteReading, input, &deleted); err != nil {
		return nil, err
	}
	return deleted, nil
}

// UpdateElderly 部分更新被看护人，未提供的字段保持不变
func (c *Client) UpdateElderly(ctx context.Context, update models.ElderlyUpdate) (*models.Elderly, error) {
	if err := update.Validate(); err != nil {
		return nil, newError(string(MutationUpdateElderly), KindValidation, err)
	}
	var elderly models.Elderly
	if err := c.ApplyMutation(ctx, MutationUpdateElderly, update.ToInput(), &elderly); err != nil {
		return nil, err
	}
	return &elderly, nil
}

// UpdateAssignment 更新看护人负责的设备列表
func (c *Client) UpdateAssignment(ctx context.Context, update models.AssignmentUpdate) (*models.Caretaker, error) {
	if err := update.Validate(); err != nil {
		return nil, newError(string(MutationUpdateCaretaker), KindValidation, err)
	}
	deviceIDs := update.DeviceIDs
	if deviceIDs == nil {
		deviceIDs = []string{}
	}
	input := map[string]interface{}{
		"caretakerID":     update.CaretakerID,
		"assignedElderly": deviceIDs,
	}
	var caretaker models.Caretaker
	if err := c.ApplyMutation(ctx, MutationUpdateCaretaker, input, &caretaker); err != nil {
		return nil, err
	}
	return &caretaker, nil
}
