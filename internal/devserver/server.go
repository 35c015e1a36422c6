// Package devserver is a local stand-in for the coach backend. It serves the
// REST and realtime surfaces the client depends on from in-memory state and
// answers chat messages with a scripted echo.
package devserver

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/protocol"
)

// Options configures a Server.
type Options struct {
	// Token is the bearer token REST calls must present. Empty accepts any.
	Token      string
	TicketTTL  time.Duration
	ChunkDelay time.Duration
	// UserPhase is reported in the connected frame.
	UserPhase string
	Logger    zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server holds the mock backend state.
type Server struct {
	opts     Options
	engine   *gin.Engine
	upgrader websocket.Upgrader
	ids      *snowflake.Node
	log      zerolog.Logger

	mu       sync.Mutex
	goals    map[string]document.Goal
	tickets  map[string]time.Time
	received []protocol.ClientFrame
	saves    []string
	logins   int
}

// New creates a server with no goals.
func New(opts Options) (*Server, error) {
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = 30 * time.Second
	}
	if opts.UserPhase == "" {
		opts.UserPhase = "goal_setting"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:    opts,
		ids:     node,
		log:     opts.Logger,
		goals:   make(map[string]document.Goal),
		tickets: make(map[string]time.Time),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/chat/ws", s.serveChat)

		authed := v1.Group("", s.requireToken())
		authed.POST("/auth/ws-ticket", s.issueTicket)
		authed.GET("/goals", s.listGoals)
		authed.GET("/goals/:id", s.getGoal)
		authed.PUT("/goals/:id", s.updateGoal)
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header != "Bearer "+s.opts.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		c.Next()
	}
}

func (s *Server) issueTicket(c *gin.Context) {
	ticket := uuid.NewString()

	s.mu.Lock()
	s.tickets[ticket] = s.opts.Now().Add(s.opts.TicketTTL)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"ticket":     ticket,
		"expires_in": int(s.opts.TicketTTL / time.Second),
	})
}

// redeem consumes a ticket. Tickets are single-use.
func (s *Server) redeem(ticket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tickets[ticket]
	if !ok {
		return false
	}
	delete(s.tickets, ticket)
	return s.opts.Now().Before(expires)
}

func (s *Server) listGoals(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", 20)
	phase := document.Phase(c.Query("phase"))

	s.mu.Lock()
	all := make([]document.Goal, 0, len(s.goals))
	for _, g := range s.goals {
		if phase == "" || g.Phase == phase {
			all = append(all, g)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(all, func(a, b document.Goal) int {
		return b.UpdatedAt.Compare(a.UpdatedAt.Time)
	})

	total := len(all)
	start := min((page-1)*size, total)
	end := min(start+size, total)

	c.JSON(http.StatusOK, document.Page{
		Goals:      all[start:end],
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: (total + size - 1) / size,
	})
}

func (s *Server) getGoal(c *gin.Context) {
	goal, ok := s.Goal(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Goal not found"})
		return
	}
	c.JSON(http.StatusOK, goal)
}

type updateRequest struct {
	Content *string `json:"content" binding:"required"`
}

func (s *Server) updateGoal(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	goal, ok := s.update(c.Param("id"), *req.Content, true)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Goal not found"})
		return
	}
	c.JSON(http.StatusOK, goal)
}

func (s *Server) update(id, content string, fromClient bool) (document.Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, ok := s.goals[id]
	if !ok {
		return goal, false
	}
	goal.Content = content
	goal.UpdatedAt = document.Timestamp{Time: s.opts.Now().UTC()}
	s.goals[id] = goal
	if fromClient {
		s.saves = append(s.saves, id)
	}
	return goal, true
}

// Seed adds or replaces goals. Missing ids, users and timestamps are filled in.
func (s *Server) Seed(goals ...document.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now().UTC()
	for _, g := range goals {
		if g.ID == "" {
			g.ID = s.ids.Generate().String()
		}
		if g.UserID == "" {
			g.UserID = "dev-user"
		}
		if g.Phase == "" {
			g.Phase = document.PhaseDraft
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = document.Timestamp{Time: now}
		}
		if g.UpdatedAt.IsZero() {
			g.UpdatedAt = g.CreatedAt
		}
		s.goals[g.ID] = g
	}
}

// Goal returns the stored goal with id.
func (s *Server) Goal(id string) (document.Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	return g, ok
}

// Received returns the chat frames clients have sent, pings excluded.
func (s *Server) Received() []protocol.ClientFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// Saves returns the ids of goals updated over REST, in order.
func (s *Server) Saves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.saves)
}

// Logins counts realtime connections opened with is_login=true.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
