package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/middleware"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/notification"
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"
	"apextrade-backend/services/testutil"
	"apextrade-backend/services/user"
	"apextrade-backend/services/withdrawal"
)

const adminToken = "secret"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type testServer struct {
	engine *gin.Engine
	clock  *clock.Fake
	hub    *audit.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.NewTestDB(t,
		&user.User{}, &ledger.Investment{}, &otp.OneTimeCode{}, &system.Settings{},
		&withdrawal.Withdrawal{}, &withdrawal.Fee{}, &withdrawal.UploadedProof{},
		&audit.AuditEvent{}, &notification.Notification{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Admin.Token = adminToken
	cfg.OTP.BcryptCost = bcrypt.MinCost
	cfg.Ledger.DefaultRate = 0.4
	cfg.Upload.MaxSize = 1 << 20

	clk := testutil.NewClock()
	hub := audit.NewHub()
	auditSvc := audit.NewService(audit.ServiceParams{DB: db, Node: node, Clock: clk, Hub: hub})
	otpSvc := otp.NewService(otp.ServiceParams{DB: db, Node: node, Clock: clk, Config: cfg})
	systemSvc := system.NewService(system.ServiceParams{DB: db, Clock: clk, Audit: auditSvc, Config: cfg})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{
		DB: db, Node: node, Clock: clk,
		OTP: otpSvc, Settings: systemSvc, Audit: auditSvc, Config: cfg,
	})
	userSvc := user.NewService(user.ServiceParams{DB: db, Node: node, Clock: clk, Audit: auditSvc, Investments: ledgerSvc})
	withdrawalSvc := withdrawal.NewService(withdrawal.ServiceParams{
		DB: db, Node: node, Clock: clk,
		Investments: ledgerSvc, OTP: otpSvc, Audit: auditSvc,
		Store: &memoryStore{objects: map[string][]byte{}}, Config: cfg,
	})
	notificationSvc := notification.NewService(notification.ServiceParams{DB: db, Node: node, Clock: clk, Audit: auditSvc})

	enforcer, err := middleware.NewEnforcer(cfg)
	require.NoError(t, err)

	e := gin.New()
	e.Use(middleware.Role(cfg.Admin.Token), middleware.Error())
	Register(e, NewHandler(Params{
		Users: userSvc, Ledger: ledgerSvc, Withdrawals: withdrawalSvc,
		Audit: auditSvc, Hub: hub, System: systemSvc, Notifications: notificationSvc,
	}), enforcer)

	return &testServer{engine: e, clock: clk, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(middleware.AdminTokenHeader, adminToken)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, path, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="receipt.pdf"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

// runningInvestment registers a user and walks an investment to running.
func (s *testServer) runningInvestment(t *testing.T) *ledger.Investment {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/register", user.RegisterRequest{
		FirstName: "Ada", LastName: "Byron", CountryCode: "US", Dial: "+1", Phone: "4155550100",
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	u := decode[user.User](t, w)

	w = s.do(t, http.MethodPost, "/api/investments", map[string]any{
		"user_id": u.ID, "package_ref": "starter", "principal": "10000", "duration": "4h",
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := decode[ledger.Investment](t, w)

	w = s.do(t, http.MethodPost, "/api/admin/investments/"+inv.ID+"/confirm", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	confirmed := decode[confirmResponse](t, w)
	require.Len(t, confirmed.Code, 6)

	w = s.do(t, http.MethodPost, "/api/investments/"+inv.ID+"/verify-otp", codeRequest{Code: confirmed.Code}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	running := decode[ledger.Investment](t, w)
	require.Equal(t, ledger.StatusRunning, running.Status)
	return &running
}

func TestInvestmentLifecycle(t *testing.T) {
	s := newTestServer(t)
	inv := s.runningInvestment(t)

	s.clock.Advance(2 * time.Hour)
	w := s.do(t, http.MethodGet, "/api/investments/"+inv.ID+"/balance", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	bal := decode[map[string]map[string]any](t, w)
	require.EqualValues(t, 50, bal["state"]["progress"])
	require.Equal(t, "12000", bal["state"]["net_balance"])

	w = s.do(t, http.MethodPost, "/api/admin/investments/"+inv.ID+"/pause", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, ledger.StatusOnHold, decode[ledger.Investment](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/admin/events?limit=3", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[map[string][]audit.AuditEvent](t, w)["events"]
	require.Len(t, events, 3)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/investments/inv_missing", nil, false)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, string(errutil.StatusNotFound), decode[errorBody](t, w).Error.Code)

	w = s.do(t, http.MethodGet, "/api/admin/investments", nil, false)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/investments", map[string]any{"principal": "-1", "duration": "2h"}, false)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, string(errutil.StatusValidationFailed), decode[errorBody](t, w).Error.Code)

	inv := s.runningInvestment(t)
	w = s.do(t, http.MethodPost, "/api/investments/"+inv.ID+"/verify-otp", codeRequest{Code: "123456"}, false)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, string(errutil.StatusInvalidState), decode[errorBody](t, w).Error.Code)
}

func TestWithdrawalFlow(t *testing.T) {
	s := newTestServer(t)
	inv := s.runningInvestment(t)
	s.clock.Advance(5 * time.Hour)

	w := s.do(t, http.MethodPost, "/api/withdrawals", withdrawalRequest{InvestmentID: inv.ID}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	wd := decode[withdrawal.Withdrawal](t, w)
	require.Equal(t, "14000", wd.Amount.String())

	w = s.do(t, http.MethodPost, "/api/admin/withdrawals/"+wd.ID+"/fees", map[string]any{"label": "tax", "amount": "150"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	fee := decode[withdrawal.Fee](t, w)

	w = s.upload(t, "/api/fees/"+fee.ID+"/proof", "text/plain", "nope")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload(t, "/api/fees/"+fee.ID+"/proof", "application/pdf", "%PDF-1.4")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	up := decode[withdrawal.UploadedProof](t, w)

	w = s.do(t, http.MethodGet, "/api/admin/uploads?status=pending", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[map[string][]withdrawal.UploadedProof](t, w)["uploads"], 1)

	w = s.do(t, http.MethodPost, "/api/admin/uploads/"+up.ID+"/review", reviewRequest{Approve: true}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	review := decode[withdrawal.ReviewResult](t, w)
	require.Len(t, review.Code, 6)

	w = s.do(t, http.MethodPost, "/api/fees/"+fee.ID+"/verify-otp", codeRequest{Code: review.Code}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, withdrawal.StatusApproved, decode[withdrawal.Withdrawal](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/admin/withdrawals/"+wd.ID+"/paid", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/withdrawals/"+wd.ID, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[withdrawal.WithdrawalDetail](t, w)
	require.Equal(t, withdrawal.StatusPaid, detail.Status)
	require.Equal(t, withdrawal.FeePaid, detail.Fees[0].Status)
}

func TestMaintenanceBlocksClients(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/api/admin/system", map[string]any{"maintenance": true}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/investments", map[string]any{"principal": "100", "duration": "4h"}, false)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/notifications", broadcastRequest{Body: "back soon"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/users/usr_any/notifications", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[map[string][]notification.Notification](t, w)["notifications"], 1)
}

func TestStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	s.hub.Publish(audit.Event{ID: "evt_1", Type: audit.InvestmentActivated, Payload: map[string]any{"investment_id": "inv_1"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "events", msg.Topic)
	require.Equal(t, "inv_1", msg.Payload.String("investment_id"))
}
