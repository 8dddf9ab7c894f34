package hive

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"github.com/villagaiaimpacthub/hive/plan"
)

// close code for auth refusals at connect time.
// the reason text distinguishes a missing credential from an invalid one.
const CloseCodeAuthFailure = 4001

const CloseReasonMissingToken = "Missing token"
const CloseReasonInvalidToken = "Invalid token"

type ServerSettings struct {
	WsReadBufferSize  int
	WsWriteBufferSize int
	WriteTimeout      time.Duration
	AuthCloseTimeout  time.Duration
	// bound on the best-effort online/offline flag writes
	PresenceWriteTimeout time.Duration
	// bound on plan confirm store writes
	ImportTimeout time.Duration

	MaxMessageSize int64

	Parser     *plan.ParserSettings
	Validation *plan.ValidationSettings
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		WsReadBufferSize:     4096,
		WsWriteBufferSize:    4096,
		WriteTimeout:         5 * time.Second,
		AuthCloseTimeout:     2 * time.Second,
		PresenceWriteTimeout: 5 * time.Second,
		ImportTimeout:        30 * time.Second,
		MaxMessageSize:       1024 * 1024,
		Parser:               plan.DefaultParserSettings(),
		Validation:           plan.DefaultValidationSettings(),
	}
}

// persistence for confirmed plan previews. The parser itself never persists.
type PlanImportStore interface {
	ImportPlan(ctx context.Context, result *plan.ParseResult) error
}

// Server exposes the realtime channel on `/ws` and the plan endpoints on
// `/plans/parse` and `/plans/confirm`.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	jwtSecret []byte

	router    *Router
	store     TaskStore
	planStore PlanImportStore

	settings *ServerSettings

	upgrader websocket.Upgrader
}

func NewServerWithDefaults(
	ctx context.Context,
	jwtSecret []byte,
	router *Router,
	store TaskStore,
	planStore PlanImportStore,
) *Server {
	return NewServer(ctx, jwtSecret, router, store, planStore, DefaultServerSettings())
}

func NewServer(
	ctx context.Context,
	jwtSecret []byte,
	router *Router,
	store TaskStore,
	planStore PlanImportStore,
	settings *ServerSettings,
) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:       cancelCtx,
		cancel:    cancel,
		jwtSecret: jwtSecret,
		router:    router,
		store:     store,
		planStore: planStore,
		settings:  settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  settings.WsReadBufferSize,
			WriteBufferSize: settings.WsWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", self.handleWs)
	mux.HandleFunc("/plans/parse", self.handlePlanParse)
	mux.HandleFunc("/plans/confirm", self.handlePlanConfirm)
	return mux
}

func (self *Server) ListenAndServe(addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: self.Handler(),
	}
	go func() {
		select {
		case <-self.ctx.Done():
		}
		httpServer.Shutdown(context.Background())
	}()
	glog.Infof("[s]listening on %s\n", addr)
	return httpServer.ListenAndServe()
}

func (self *Server) Close() {
	self.cancel()
}

// connection state machine: CONNECTING -> (auth ok?) -> OPEN -> CLOSED
// auth failures close before OPEN with a distinguishing reason.
// once OPEN, the loop handles one inbound message at a time in arrival
// order until the transport closes.
func (self *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[s]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	token := r.URL.Query().Get("token")
	if token == "" {
		self.closeWithReason(ws, CloseReasonMissingToken)
		return
	}
	userId, err := ParseChannelToken(token, self.jwtSecret)
	if err != nil {
		glog.Infof("[s]auth error = %s\n", err)
		self.closeWithReason(ws, CloseReasonInvalidToken)
		return
	}

	ws.SetReadLimit(self.settings.MaxMessageSize)

	// the read below only unblocks when the conn closes,
	// so shutdown closes it
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()
	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	connection := newWsConnection(ws, self.settings.WriteTimeout)
	registry := self.router.Registry()
	registry.Register(userId, connection)
	self.drainPresenceEvents(registry)
	defer func() {
		registry.Unregister(userId, connection)
		self.drainPresenceEvents(registry)
	}()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[s]%s<- closed = %s\n", userId, err)
			return
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			self.router.HandleInbound(userId, message)
		}
	}
}

func (self *Server) closeWithReason(ws *websocket.Conn, reason string) {
	message := websocket.FormatCloseMessage(CloseCodeAuthFailure, reason)
	ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(self.settings.AuthCloseTimeout))
}

// executes pending online/offline intents. Failures here are logged and
// swallowed. Presence tracking must never block message delivery.
func (self *Server) drainPresenceEvents(registry *PresenceRegistry) {
	for _, event := range registry.DrainEvents() {
		storeCtx, cancel := context.WithTimeout(self.ctx, self.settings.PresenceWriteTimeout)
		err := self.store.SetUserOnline(storeCtx, event.UserId, event.Online)
		cancel()
		if err != nil {
			glog.Infof("[s]online flag %s=%t error = %s\n", event.UserId, event.Online, err)
		}
	}
}

var planLog = LogFn(LogLevelDebug, "plan")

type PlanParseArgs struct {
	Content string `json:"content"`
	Format  string `json:"format,omitempty"`
}

type PlanParseError struct {
	Errors []string `json:"errors"`
}

type PlanConfirmResult struct {
	Status  string       `json:"status"`
	Summary plan.Summary `json:"summary"`
}

func (self *Server) handlePlanParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var args PlanParseArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeJson(w, http.StatusBadRequest, &PlanParseError{
			Errors: []string{"Invalid request body"},
		})
		return
	}

	if args.Format != "" && args.Format != "markdown" {
		writeJson(w, http.StatusBadRequest, &PlanParseError{
			Errors: []string{"Unsupported format: " + args.Format},
		})
		return
	}

	if errors := plan.Validate(args.Content, self.settings.Validation); 0 < len(errors) {
		writeJson(w, http.StatusBadRequest, &PlanParseError{
			Errors: errors,
		})
		return
	}

	parser := plan.NewParser(self.settings.Parser)
	result := parser.ParseMarkdown(args.Content)
	planLog(
		"parse: %d waypoints, %d projects, %d tasks",
		result.Summary.WaypointsCount,
		result.Summary.ProjectsCount,
		result.Summary.TasksCount,
	)
	writeJson(w, http.StatusOK, result)
}

func (self *Server) handlePlanConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var result plan.ParseResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeJson(w, http.StatusBadRequest, &PlanParseError{
			Errors: []string{"Invalid request body"},
		})
		return
	}

	importCtx, cancel := context.WithTimeout(self.ctx, self.settings.ImportTimeout)
	defer cancel()
	if err := self.planStore.ImportPlan(importCtx, &result); err != nil {
		glog.Infof("[s]plan import error = %s\n", err)
		writeJson(w, http.StatusInternalServerError, &PlanParseError{
			Errors: []string{"Import failed"},
		})
		return
	}

	writeJson(w, http.StatusOK, &PlanConfirmResult{
		Status:  "success",
		Summary: result.Summary,
	})
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// serializes writes to one websocket with a deadline per write
type wsConnection struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mutex sync.Mutex
}

func newWsConnection(ws *websocket.Conn, writeTimeout time.Duration) *wsConnection {
	return &wsConnection{
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (self *wsConnection) SendJson(message any) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return err
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.ws.SetWriteDeadline(time.Now().Add(self.writeTimeout))
	return self.ws.WriteMessage(websocket.TextMessage, frame)
}
