package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/faceclient"
	"faceattend/internal/notify"
)

// Options configures the handler surface.
type Options struct {
	AdminUser     string
	AdminPassword string
	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	// Keepalive is the SSE comment interval for attendanceStream.
	Keepalive time.Duration
}

// Handler exposes the attendance service over HTTP.
type Handler struct {
	svc         *attendance.Service
	broadcaster notify.Broadcaster
	extractor   *faceclient.Client
	opts        Options
}

// New wires a handler. extractor may be nil when clients always send
// descriptors themselves.
func New(svc *attendance.Service, broadcaster notify.Broadcaster, extractor *faceclient.Client, opts Options) *Handler {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 30 * time.Second
	}
	return &Handler{svc: svc, broadcaster: broadcaster, extractor: extractor, opts: opts}
}

// Routes registers all endpoints on the engine.
func (h *Handler) Routes(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/markAttendance", h.MarkAttendance)
	api.GET("/getActiveSession", h.GetActiveSession)
	api.GET("/getAttendance", h.GetAttendance)
	api.GET("/getCompanyName", h.GetCompanyName)
	api.GET("/attendanceStream", h.AttendanceStream)
	api.POST("/adminLogin", h.AdminLogin)

	admin := api.Group("", auth.AdminAuth(h.opts.JWTSigningKey, h.opts.JWTIssuer))
	admin.POST("/startAttendance", h.StartAttendance)
	admin.POST("/stopAttendance", h.StopAttendance)
}

// ---------- Registration ----------

type registerRequest struct {
	RollNumber     string    `json:"rollNumber"`
	FaceDescriptor []float32 `json:"faceDescriptor"`
	ImageData      string    `json:"imageData"`
}

// Register enrolls a student. The caller sends either the descriptor
// computed client-side or a base64 capture for server-side extraction.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "roll number and face descriptor are required"})
		return
	}

	descriptor, ok := h.resolveDescriptor(c, req.FaceDescriptor, req.ImageData)
	if !ok {
		registrationsTotal.WithLabelValues("validation").Inc()
		return
	}

	_, err := h.svc.Register(c.Request.Context(), req.RollNumber, descriptor)
	switch {
	case err == nil:
		registrationsTotal.WithLabelValues("ok").Inc()
		c.JSON(http.StatusCreated, gin.H{"message": "Student registered successfully"})
	case errors.Is(err, attendance.ErrValidation):
		registrationsTotal.WithLabelValues("validation").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, attendance.ErrDuplicateRollNumber):
		registrationsTotal.WithLabelValues("duplicate_roll").Inc()
		c.JSON(http.StatusConflict, gin.H{"message": "Student already registered"})
	case errors.Is(err, attendance.ErrDuplicateFace):
		registrationsTotal.WithLabelValues("duplicate_face").Inc()
		c.JSON(http.StatusConflict, gin.H{"message": "Face already registered to another student"})
	default:
		registrationsTotal.WithLabelValues("error").Inc()
		log.Printf("register failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error registering student"})
	}
}

// ---------- Check-in ----------

type markRequest struct {
	RollNumber     string    `json:"rollNumber"`
	FaceDescriptor []float32 `json:"faceDescriptor"`
	ImageData      string    `json:"imageData"`
	Location       string    `json:"location"`
}

func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "roll number and face descriptor are required"})
		return
	}

	descriptor, ok := h.resolveDescriptor(c, req.FaceDescriptor, req.ImageData)
	if !ok {
		checkinsTotal.WithLabelValues("validation").Inc()
		return
	}

	_, err := h.svc.CheckIn(c.Request.Context(), req.RollNumber, descriptor, req.Location)
	switch {
	case err == nil:
		checkinsTotal.WithLabelValues("ok").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "Attendance marked successfully"})
	case errors.Is(err, attendance.ErrValidation):
		checkinsTotal.WithLabelValues("validation").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, attendance.ErrNoActiveSession):
		checkinsTotal.WithLabelValues("no_session").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"message": "No active attendance session"})
	case errors.Is(err, attendance.ErrUnknownStudent):
		checkinsTotal.WithLabelValues("unknown_student").Inc()
		c.JSON(http.StatusNotFound, gin.H{"message": "Student not found"})
	case errors.Is(err, attendance.ErrFaceMismatch):
		checkinsTotal.WithLabelValues("face_mismatch").Inc()
		c.JSON(http.StatusForbidden, gin.H{"message": "Face recognition failed"})
	case errors.Is(err, attendance.ErrAlreadyMarked):
		checkinsTotal.WithLabelValues("already_marked").Inc()
		c.JSON(http.StatusConflict, gin.H{"message": "Attendance already marked for this session"})
	default:
		checkinsTotal.WithLabelValues("error").Inc()
		log.Printf("mark attendance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error marking attendance"})
	}
}

// resolveDescriptor picks the client-provided descriptor or extracts one
// from the image capture. On failure it writes the response itself and
// returns ok=false.
func (h *Handler) resolveDescriptor(c *gin.Context, descriptor []float32, imageData string) ([]float32, bool) {
	if len(descriptor) > 0 {
		return descriptor, true
	}
	if imageData == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "faceDescriptor or imageData is required"})
		return nil, false
	}
	if h.extractor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "face extraction not configured"})
		return nil, false
	}
	extracted, err := h.extractor.Extract(c.Request.Context(), imageData)
	if errors.Is(err, faceclient.ErrNoFaceDetected) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No face detected in image"})
		return nil, false
	}
	if err != nil {
		log.Printf("descriptor extraction failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"message": "Face extraction failed"})
		return nil, false
	}
	return extracted, true
}

// ---------- Sessions ----------

type startRequest struct {
	CompanyName string `json:"companyName"`
	Duration    int    `json:"duration"`
}

func (h *Handler) StartAttendance(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "company name and duration are required"})
		return
	}

	session, err := h.svc.StartSession(c.Request.Context(), req.CompanyName, req.Duration)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Attendance window opened", "session": session})
	case errors.Is(err, attendance.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		log.Printf("start attendance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error starting attendance"})
	}
}

func (h *Handler) StopAttendance(c *gin.Context) {
	_, err := h.svc.StopSession(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Attendance window closed"})
	case errors.Is(err, attendance.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, gin.H{"message": "No active attendance session found"})
	default:
		log.Printf("stop attendance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error stopping attendance"})
	}
}

func (h *Handler) GetActiveSession(c *gin.Context) {
	session, err := h.svc.ActiveSession(c.Request.Context())
	if err != nil {
		log.Printf("get active session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error fetching active session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "No active attendance session found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"companyName": session.CompanyName})
}

func (h *Handler) GetAttendance(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context())
	if err != nil {
		log.Printf("get attendance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error fetching attendance"})
		return
	}
	if snap.Session == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "No attendance sessions found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetCompanyName(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context())
	if err != nil {
		log.Printf("get company name failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error fetching company name"})
		return
	}
	if snap.Session == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "No attendance sessions found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"companyName": snap.Session.CompanyName})
}

// ---------- Stream ----------

// AttendanceStream pushes a snapshot immediately on connect, then one per
// attendance change, with periodic keepalive comments in between.
func (h *Handler) AttendanceStream(c *gin.Context) {
	ch, cancel, err := h.broadcaster.Subscribe(c.Request.Context())
	if err != nil {
		log.Printf("stream subscribe failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error opening stream"})
		return
	}
	defer cancel()

	streamSubscribers.Inc()
	defer streamSubscribers.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	if snap, err := h.svc.Snapshot(c.Request.Context()); err == nil {
		c.SSEvent("message", snap)
		c.Writer.Flush()
	}

	keepalive := time.NewTicker(h.opts.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			c.SSEvent("message", snap)
			c.Writer.Flush()
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}

// ---------- Admin login ----------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "username and password are required"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.opts.AdminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.opts.AdminPassword)) == 1
	if !userOK || !passOK {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}

	token, expiresAt, err := auth.Issue(req.Username, auth.RoleAdmin, h.opts.JWTIssuer, h.opts.JWTSigningKey, h.opts.AccessTTL)
	if err != nil {
		log.Printf("token issue failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expiresAt.Unix()})
}
