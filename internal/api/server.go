package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldattend/internal/attendance"
	"fieldattend/internal/auth"
	"fieldattend/internal/httpmiddleware"
	"fieldattend/internal/metrics"
	"fieldattend/internal/notify"
	"fieldattend/internal/queue"
)

const (
	// RoleAdmin may list other employees' attendance. Admin tokens are only
	// minted by an operator (cmd/api -issue-token), never over HTTP.
	RoleAdmin = "admin"
	// RoleSalesman is the role of every self-service session.
	RoleSalesman = "salesman"
)

// Checker reports dependency health for /healthz.
type Checker func(ctx context.Context) bool

// Options wires the HTTP server.
type Options struct {
	Service       *attendance.Service
	Store         attendance.Store
	Queue         queue.Queue
	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MaxPhotoBytes int64
	RateLimit     int
	Health        map[string]Checker
	// Hub, if set, serves live notifications on /v1/notifications/ws.
	Hub *notify.Hub
}

type server struct {
	opts Options
}

// NewRouter builds the gin engine for the attendance API.
func NewRouter(opts Options) *gin.Engine {
	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = 5 * 1024 * 1024
	}
	s := &server{opts: opts}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.MaxMultipartMemory = opts.MaxPhotoBytes + 1<<20

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)
	r.POST("/v1/sessions", s.createSession)
	r.POST("/v1/sessions/refresh", s.refreshSession)

	limiter := httpmiddleware.NewTokenBucket(opts.RateLimit, opts.RateLimit)
	authed := r.Group("/v1", auth.UserAuth(opts.JWTSigningKey, opts.JWTIssuer), limiter.Middleware(auth.EmployeeID))
	authed.GET("/attendance/today", s.today)
	authed.POST("/attendance/check-in", s.checkIn)
	authed.GET("/attendance", s.list)
	if opts.Hub != nil {
		r.GET("/v1/notifications/ws", s.notifications)
	}
	return r
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *server) healthz(c *gin.Context) {
	out := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range s.opts.Health {
		ok := check(c.Request.Context())
		out[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			out["status"] = "degraded"
		}
	}
	c.JSON(status, out)
}

func (s *server) createSession(c *gin.Context) {
	var req struct {
		EmployeeID string `json:"employee_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}
	s.issue(c, req.EmployeeID, RoleSalesman, http.StatusCreated)
}

func (s *server) refreshSession(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := auth.ParseRefresh(req.RefreshToken, s.opts.JWTSigningKey, s.opts.JWTIssuer)
	if err != nil {
		detail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	s.issue(c, claims.Subject, claims.Role, http.StatusOK)
}

func (s *server) issue(c *gin.Context, subject, role string, status int) {
	tokens, err := auth.Issue(subject, role, s.opts.JWTIssuer, s.opts.JWTSigningKey, s.opts.AccessTTL, s.opts.RefreshTTL)
	if err != nil {
		detail(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *server) today(c *gin.Context) {
	rec, err := s.opts.Service.Today(c.Request.Context(), auth.EmployeeID(c))
	if err != nil {
		log.Printf("today lookup failed: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to load attendance")
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type checkInForm struct {
	Photo            *multipart.FileHeader `form:"photo" binding:"required"`
	Latitude         float64               `form:"latitude" binding:"gte=-90,lte=90"`
	Longitude        float64               `form:"longitude" binding:"gte=-180,lte=180"`
	Location         string                `form:"location" binding:"required,max=512"`
	Time             string                `form:"time" binding:"required"`
	AttendanceStatus string                `form:"attendance_status" binding:"required,oneof=Present"`
}

func (s *server) checkIn(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxPhotoBytes+1<<20)

	var form checkInForm
	if err := c.ShouldBind(&form); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			metrics.CheckInRejections.WithLabelValues("too_large").Inc()
			detail(c, http.StatusRequestEntityTooLarge, "Photo exceeds 5 MB")
			return
		}
		metrics.CheckInRejections.WithLabelValues("invalid").Inc()
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if _, err := time.Parse("15:04:05", form.Time); err != nil {
		metrics.CheckInRejections.WithLabelValues("invalid").Inc()
		detail(c, http.StatusUnprocessableEntity, "time must be HH:MM:SS")
		return
	}
	if form.Photo.Size > s.opts.MaxPhotoBytes {
		metrics.CheckInRejections.WithLabelValues("too_large").Inc()
		detail(c, http.StatusRequestEntityTooLarge, "Photo exceeds 5 MB")
		return
	}
	data, err := readPart(form.Photo)
	if err != nil {
		detail(c, http.StatusBadRequest, "Could not read photo")
		return
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		metrics.CheckInRejections.WithLabelValues("not_image").Inc()
		detail(c, http.StatusBadRequest, "Photo must be an image")
		return
	}
	metrics.PhotoBytes.Observe(float64(len(data)))

	rec, err := s.opts.Service.CheckIn(c.Request.Context(), attendance.CheckIn{
		EmployeeID:  auth.EmployeeID(c),
		Photo:       data,
		PhotoName:   form.Photo.Filename,
		ContentType: mt.String(),
		Latitude:    form.Latitude,
		Longitude:   form.Longitude,
		Location:    form.Location,
		ClientTime:  form.Time,
		Status:      form.AttendanceStatus,
	})
	switch {
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		metrics.CheckInRejections.WithLabelValues("duplicate").Inc()
		detail(c, http.StatusBadRequest, "Already checked in today")
		return
	case errors.Is(err, attendance.ErrPhotoRequired):
		detail(c, http.StatusBadRequest, "Photo required for attendance")
		return
	case err != nil:
		log.Printf("check-in failed: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to mark attendance")
		return
	}
	metrics.CheckIns.WithLabelValues(rec.Status).Inc()

	if s.opts.Queue != nil {
		msg, err := queue.NewCheckIn(queue.CheckInEvent{RecordID: rec.ID, EmployeeID: rec.EmployeeID, Status: rec.Status, Time: rec.Time})
		if err == nil {
			pubCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err = s.opts.Queue.Publish(pubCtx, msg)
			cancel()
		}
		if err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}
	c.JSON(http.StatusCreated, rec)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *server) list(c *gin.Context) {
	f := attendance.Filter{
		EmployeeID: c.Query("employee_id"),
		From:       c.Query("from"),
		To:         c.Query("to"),
		Limit:      50,
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			detail(c, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}
	if claims, _ := auth.ClaimsFrom(c); claims.Role != RoleAdmin {
		f.EmployeeID = claims.Subject
	}
	records, err := s.opts.Store.List(c.Request.Context(), f)
	if err != nil {
		log.Printf("list attendance failed: %v", err)
		detail(c, http.StatusInternalServerError, "Failed to load attendance")
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// notifications streams notifications addressed to the caller. Browsers
// cannot set headers on a websocket handshake, so the token may come in
// the query string.
func (s *server) notifications(c *gin.Context) {
	token := c.Query("token")
	if h := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		detail(c, http.StatusUnauthorized, "token missing")
		return
	}
	claims, err := auth.ParseAccess(token, s.opts.JWTSigningKey, s.opts.JWTIssuer)
	if err != nil {
		detail(c, http.StatusUnauthorized, "invalid token")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("ws upgrade failed:", err)
		return
	}
	s.opts.Hub.Serve(conn, claims.Subject, claims.Role)
}
