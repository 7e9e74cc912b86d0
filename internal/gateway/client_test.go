package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

type capturedRequest struct {
	Auth      string
	Query     string
	Variables map[string]interface{}
}

type recorder struct {
	mu   sync.Mutex
	reqs []capturedRequest
}

func (r *recorder) all() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.reqs...)
}

// newGraphQLServer 返回固定响应并记录请求
func newGraphQLServer(t *testing.T, status int, respond func(req capturedRequest) string) (*httptest.Server, *recorder) {
	t.Helper()
	captured := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		var body graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		req := capturedRequest{Auth: r.Header.Get("Authorization"), Query: body.Query, Variables: body.Variables}
		captured.mu.Lock()
		captured.reqs = append(captured.reqs, req)
		captured.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respond(req)))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestClient(url string, creds CredentialProvider) *Client {
	return NewClient(Options{Endpoint: url}, creds, zap.NewNop())
}

func TestListPage(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":{"listWatchData":{"items":[
			{"deviceId":"D1","timestamp":"2024-05-01T08:00:00Z","heartRate":72,"isMoving":true,"motion":3.5,"status":"normal"},
			{"deviceId":"D1","timestamp":"2024-05-01T07:00:00Z","heartRate":48,"isMoving":false,"motion":0}
		],"nextToken":"tok-2"}}}`
	})
	c := newTestClient(srv.URL, NewStaticCredentials("jwt-1"))

	token := "tok-1"
	page, err := c.ListPage(context.Background(), "D1", 50, &token)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 72, page.Items[0].HeartRate)
	assert.Equal(t, models.StatusNormal, page.Items[0].Status)
	assert.Equal(t, models.Status(""), page.Items[1].Status)
	require.NotNil(t, page.NextToken)
	assert.Equal(t, "tok-2", *page.NextToken)

	require.Len(t, captured.all(), 1)
	req := captured.all()[0]
	assert.Equal(t, "jwt-1", req.Auth)
	assert.Contains(t, req.Query, "listWatchData")
	assert.Equal(t, float64(50), req.Variables["limit"])
	assert.Equal(t, "tok-1", req.Variables["nextToken"])
	assert.Equal(t, map[string]interface{}{"deviceId": map[string]interface{}{"eq": "D1"}}, req.Variables["filter"])
}

func TestCredentialFetchedPerCall(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":{"listWatchData":{"items":[],"nextToken":null}}}`
	})
	var calls int32
	creds := CredentialFunc(func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "token-a", nil
		}
		return "token-b", nil
	})
	c := newTestClient(srv.URL, creds)

	for i := 0; i < 2; i++ {
		page, err := c.ListPage(context.Background(), "D1", 50, nil)
		require.NoError(t, err)
		assert.Nil(t, page.NextToken)
	}
	assert.Equal(t, "token-a", captured.all()[0].Auth)
	assert.Equal(t, "token-b", captured.all()[1].Auth)
	assert.NotContains(t, captured.all()[0].Variables, "nextToken")
}

func TestMissingCredentialSendsNoHeader(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":{"listWatchData":{"items":[]}}}`
	})
	c := newTestClient(srv.URL, NewStaticCredentials(""))

	_, err := c.ListPage(context.Background(), "D1", 50, nil)
	require.NoError(t, err)
	assert.Equal(t, "", captured.all()[0].Auth)
}

func TestCredentialErrorIsUnauthorized(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", CredentialFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("session expired")
	}))
	_, err := c.ListPage(context.Background(), "D1", 50, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUnauthorizedStatus(t *testing.T) {
	srv, _ := newGraphQLServer(t, http.StatusUnauthorized, func(req capturedRequest) string {
		return `{"errors":[{"errorType":"UnauthorizedException","message":"Valid authorization header not provided."}]}`
	})
	c := newTestClient(srv.URL, NewStaticCredentials("expired"))

	_, err := c.ListPage(context.Background(), "D1", 50, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
	assert.Equal(t, "listWatchData", gwErr.Op)
}

func TestServerErrorIsTransport(t *testing.T) {
	srv, _ := newGraphQLServer(t, http.StatusBadGateway, func(req capturedRequest) string { return "bad gateway" })
	c := newTestClient(srv.URL, nil)

	_, err := c.ListPage(context.Background(), "D1", 50, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(url, nil)
	_, err := c.ListPage(context.Background(), "D1", 50, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestGraphQLErrors(t *testing.T) {
	srv, _ := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":null,"errors":[{"message":"field x undefined"},{"message":"oops"}]}`
	})
	c := newTestClient(srv.URL, nil)

	_, err := c.ListPage(context.Background(), "D1", 50, nil)
	assert.ErrorIs(t, err, ErrGraphQL)
	assert.Contains(t, err.Error(), "field x undefined; oops")
}

func TestGetAssignment(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		if req.Variables["username"] == "ghost" {
			return `{"data":{"getCaretakerByUsername":null}}`
		}
		return `{"data":{"getCaretakerByUsername":{"caretakerID":"c1","username":"ann","name":"Ann","email":"ann@example.com","assignedElderly":["D1","D2","D1"]}}}`
	})
	c := newTestClient(srv.URL, NewStaticCredentials("jwt"))

	a, err := c.GetAssignment(context.Background(), "ann")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "c1", a.ID)
	assert.Equal(t, "Ann", a.Name)
	assert.Equal(t, []string{"D1", "D2"}, a.DeviceIDs)

	a, err = c.GetAssignment(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Len(t, captured.all(), 2)
}

func TestCreateReading(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":{"createWatchData":{"deviceId":"D1","timestamp":"2024-05-01T08:00:00Z","heartRate":45,"isMoving":false,"motion":0,"status":"low"}}}`
	})
	c := newTestClient(srv.URL, NewStaticCredentials("jwt"))

	created, err := c.CreateReading(context.Background(), models.Reading{
		DeviceID: "D1", Timestamp: "2024-05-01T08:00:00Z", HeartRate: 45, Status: models.StatusLow,
	})
	require.NoError(t, err)
	assert.Equal(t, 45, created.HeartRate)

	input := captured.all()[0].Variables["input"].(map[string]interface{})
	assert.Equal(t, "D1", input["deviceId"])
	assert.Equal(t, "low", input["status"])
}

func TestCreateReading_ValidationFailsWithoutRequest(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string { return `{}` })
	c := newTestClient(srv.URL, nil)

	_, err := c.CreateReading(context.Background(), models.Reading{HeartRate: 70})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "deviceId", verr.Field)
	assert.Empty(t, captured.all())
}

func TestUpdateElderly_OnlyProvidedFields(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":{"updateElderly":{"elderlyID":"e1","name":"Bob","age":82}}}`
	})
	c := newTestClient(srv.URL, nil)

	age := 82
	e, err := c.UpdateElderly(context.Background(), models.ElderlyUpdate{ElderlyID: "e1", Age: &age})
	require.NoError(t, err)
	assert.Equal(t, 82, e.Age)

	input := captured.all()[0].Variables["input"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"elderlyID": "e1", "age": float64(82)}, input)
}

func TestUpdateAssignment(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		return `{"data":{"updateCaretaker":{"caretakerID":"c1","assignedElderly":["D1"]}}}`
	})
	c := newTestClient(srv.URL, nil)

	ct, err := c.UpdateAssignment(context.Background(), models.AssignmentUpdate{CaretakerID: "c1", DeviceIDs: []string{"D1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"D1"}, ct.AssignedElderly)

	input := captured.all()[0].Variables["input"].(map[string]interface{})
	assert.Equal(t, []interface{}{"D1"}, input["assignedElderly"])
}

func TestUpdateAndDeleteReading(t *testing.T) {
	srv, captured := newGraphQLServer(t, http.StatusOK, func(req capturedRequest) string {
		if _, ok := req.Variables["input"].(map[string]interface{})["heartRate"]; ok {
			return `{"data":{"updateWatchData":{"deviceId":"D1","timestamp":"2024-05-01T08:00:00Z","heartRate":91}}}`
		}
		return `{"data":{"deleteWatchData":{"deviceId":"D1","timestamp":"2024-05-01T08:00:00Z","heartRate":91}}}`
	})
	c := newTestClient(srv.URL, nil)

	hr := 91
	updated, err := c.UpdateReading(context.Background(), models.ReadingPatch{DeviceID: "D1", Timestamp: "2024-05-01T08:00:00Z", HeartRate: &hr})
	require.NoError(t, err)
	assert.Equal(t, 91, updated.HeartRate)

	deleted, err := c.DeleteReading(context.Background(), models.ReadingKey{DeviceID: "D1", Timestamp: "2024-05-01T08:00:00Z"})
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Len(t, captured.all(), 2)

	_, err = c.DeleteReading(context.Background(), models.ReadingKey{DeviceID: "D1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApplyMutation_UnknownKind(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", nil)
	err := c.ApplyMutation(context.Background(), MutationKind("dropTable"), nil, nil)
	assert.ErrorIs(t, err, ErrValidation)
}
