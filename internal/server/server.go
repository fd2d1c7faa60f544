package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/viture-view/internal/capture"
	"github.com/shaunagostinho/viture-view/internal/headtrack"
	"github.com/shaunagostinho/viture-view/internal/logger"
)

// eventBacklog bounds the device-event ring replayed to new clients.
const eventBacklog = 32

// Server coordinates pose and camera polling and broadcasts data to
// WebSocket clients.
type Server struct {
	cfg     *Config
	tracker headtrack.Provider
	camera  capture.Source
	webFS   fs.FS
	logger  *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// Reference pose — the orientation the view is anchored to. Seeded from
	// the first valid pose, replaced by /api/recenter, persisted to disk.
	refMu   sync.Mutex
	ref     headtrack.Pose
	refPath string

	poseMu   sync.Mutex
	lastPose *headtrack.Pose

	evMu   sync.Mutex
	events []EventData

	// Latest JPEG-encoded camera frame for the MJPEG stream.
	jpegMu  sync.Mutex
	jpegBuf []byte
	jpegSeq uint64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Pose   *headtrack.Pose `json:"pose,omitempty"` // raw tracker pose
	Rel    *RelPose        `json:"rel,omitempty"`  // pose relative to the reference
	Ref    *RefData        `json:"ref,omitempty"`
	Events []EventData     `json:"events,omitempty"`
	Config *DisplayConfig  `json:"config,omitempty"`
	Camera *CameraInfo     `json:"camera,omitempty"`
	Stamp  int64           `json:"stamp"` // Unix ms
}

// RelPose is the head orientation with the reference pose subtracted,
// wrapped to [-180, 180) degrees.
type RelPose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// RefData is the reference pose sent to clients.
type RefData struct {
	Set   bool    `json:"set"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// EventData is one device event with its arrival stamp.
type EventData struct {
	Cmd        uint16 `json:"cmd"`
	Data       string `json:"data,omitempty"`
	DeviceTime uint32 `json:"deviceTime"`
	Stamp      int64  `json:"stamp"` // Unix ms
}

// CameraInfo describes the camera source to clients.
type CameraInfo struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// New creates a new Server. tracker and camera may be nil when that part of
// the rig is absent.
func New(cfg *Config, tracker headtrack.Provider, camera capture.Source, webFS fs.FS) *Server {
	refPath := filepath.Join(filepath.Dir(cfg.path), "reference.dat")
	if cfg.path == "" {
		refPath = "/etc/viture-view/reference.dat"
	}

	s := &Server{
		cfg:     cfg,
		tracker: tracker,
		camera:  camera,
		webFS:   webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		refPath: refPath,
	}
	s.loadReference()
	return s
}

// Run starts the HTTP server and data polling loops.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Reference pose API
	mux.HandleFunc("/api/recenter", s.handleRecenter)

	// MJPEG camera stream
	mux.HandleFunc("/video", s.handleVideo)

	// Start polling — tracker and camera are independent
	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", total)

	// Send initial config, reference and event backlog
	s.evMu.Lock()
	backlog := append([]EventData(nil), s.events...)
	s.evMu.Unlock()

	first := Frame{
		Config: &s.cfg.Display,
		Ref:    s.refData(),
		Events: backlog,
		Camera: s.cameraInfo(),
		Stamp:  time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(first); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			left := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", left)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Broadcast updated display config
		s.broadcast(Frame{Config: &s.cfg.Display, Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// handleRecenter makes the current pose the new reference orientation.
func (s *Server) handleRecenter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.poseMu.Lock()
	pose := s.lastPose
	s.poseMu.Unlock()
	if pose == nil || !pose.Valid {
		http.Error(w, "no pose to recenter on", 409)
		return
	}

	s.refMu.Lock()
	s.ref = *pose
	s.refMu.Unlock()
	s.saveReference()
	log.Printf("[ref] recentered at roll=%.1f pitch=%.1f yaw=%.1f", pose.Roll, pose.Pitch, pose.Yaw)

	s.broadcast(Frame{Ref: s.refData(), Stamp: time.Now().UnixMilli()})
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleVideo streams the camera as multipart MJPEG, one part per new frame.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if s.camera == nil {
		http.Error(w, "no camera source", 404)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", 500)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			s.jpegMu.Lock()
			buf, seq := s.jpegBuf, s.jpegSeq
			s.jpegMu.Unlock()
			if buf == nil || seq == lastSeq {
				continue
			}
			lastSeq = seq
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(buf))
			if _, err := w.Write(buf); err != nil {
				return
			}
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
		}
	}
}

// PushEvent records a device event and forwards it to connected clients.
// Safe to call from provider callbacks.
func (s *Server) PushEvent(ev headtrack.Event) {
	e := EventData{
		Cmd:        ev.Cmd,
		Data:       ev.Data,
		DeviceTime: ev.DeviceTime,
		Stamp:      time.Now().UnixMilli(),
	}
	s.evMu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > eventBacklog {
		s.events = s.events[len(s.events)-eventBacklog:]
	}
	s.evMu.Unlock()

	s.broadcast(Frame{Events: []EventData{e}, Stamp: e.Stamp})
}

// pollLoop polls the tracker and camera independently, then broadcasts
// combined frames. The camera keeps streaming even without a tracker.
func (s *Server) pollLoop(ctx context.Context) {
	pollHz := s.cfg.Tracker.PollHz
	if pollHz <= 0 {
		pollHz = 60
	}
	poseTicker := time.NewTicker(time.Second / time.Duration(pollHz))
	camTicker := time.NewTicker(15 * time.Millisecond)
	broadcastTicker := time.NewTicker(time.Second / time.Duration(pollHz))
	defer poseTicker.Stop()
	defer camTicker.Stop()
	defer broadcastTicker.Stop()

	// Pose polling goroutine — runs independently
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-poseTicker.C:
				if s.tracker == nil {
					continue
				}
				pose, err := s.tracker.Read()
				if err != nil {
					continue
				}
				s.poseMu.Lock()
				s.lastPose = pose
				s.poseMu.Unlock()
				if pose.Valid {
					s.seedReference(pose)
				}
			}
		}
	}()

	// Camera polling goroutine — runs independently
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-camTicker.C:
				if s.camera == nil {
					continue
				}
				frame, err := s.camera.Read()
				if err != nil || frame == nil {
					continue
				}
				buf, err := encodeJPEG(frame)
				if err != nil {
					log.Printf("[video] jpeg encode failed: %v", err)
					continue
				}
				s.jpegMu.Lock()
				s.jpegBuf = buf
				s.jpegSeq++
				s.jpegMu.Unlock()
			}
		}
	}()

	// Broadcast loop — sends the latest pose to clients
	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case <-broadcastTicker.C:
			s.poseMu.Lock()
			pose := s.lastPose
			s.poseMu.Unlock()
			if pose == nil {
				continue
			}

			rel := s.relativePose(pose)
			frame := Frame{
				Pose:  pose,
				Rel:   rel,
				Ref:   s.refData(),
				Stamp: time.Now().UnixMilli(),
			}
			s.broadcast(frame)

			// Record to CSV log
			s.logger.Record(pose, relForLog(rel))
		}
	}
}

// relForLog adapts a RelPose to the logger's angle triple.
func relForLog(rel *RelPose) *logger.Rel {
	if rel == nil {
		return nil
	}
	return &logger.Rel{Roll: rel.Roll, Pitch: rel.Pitch, Yaw: rel.Yaw}
}

// seedReference installs the first valid pose as the reference orientation.
// A reference loaded from disk or set by recenter wins.
func (s *Server) seedReference(pose *headtrack.Pose) {
	s.refMu.Lock()
	if s.ref.Valid {
		s.refMu.Unlock()
		return
	}
	s.ref = *pose
	s.refMu.Unlock()
	log.Printf("[ref] seeded from first pose: roll=%.1f pitch=%.1f yaw=%.1f", pose.Roll, pose.Pitch, pose.Yaw)
	s.saveReference()
}

// relativePose subtracts the reference orientation, wrapping each angle.
func (s *Server) relativePose(pose *headtrack.Pose) *RelPose {
	if !pose.Valid {
		return nil
	}
	s.refMu.Lock()
	ref := s.ref
	s.refMu.Unlock()
	if !ref.Valid {
		return nil
	}
	return &RelPose{
		Roll:  wrapDeg(pose.Roll - ref.Roll),
		Pitch: wrapDeg(pose.Pitch - ref.Pitch),
		Yaw:   wrapDeg(pose.Yaw - ref.Yaw),
	}
}

func (s *Server) refData() *RefData {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return &RefData{Set: s.ref.Valid, Roll: s.ref.Roll, Pitch: s.ref.Pitch, Yaw: s.ref.Yaw}
}

func (s *Server) cameraInfo() *CameraInfo {
	if s.camera == nil {
		return nil
	}
	info := &CameraInfo{Name: s.camera.Name()}
	if s.cfg.Capture.Type != "disabled" {
		info.Width = s.cfg.Capture.Width
		info.Height = s.cfg.Capture.Height
	}
	return info
}

// wrapDeg folds an angle difference into [-180, 180).
func wrapDeg(a float64) float64 {
	for a >= 180 {
		a -= 360
	}
	for a < -180 {
		a += 360
	}
	return a
}

// loadReference reads the persisted reference pose from disk.
func (s *Server) loadReference() {
	data, err := os.ReadFile(s.refPath)
	if err != nil {
		log.Printf("[ref] no saved reference at %s (will seed from first pose)", s.refPath)
		return
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(parts) < 3 {
		log.Printf("[ref] malformed reference file %s, ignoring", s.refPath)
		return
	}
	roll, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	pitch, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	yaw, err3 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		log.Printf("[ref] malformed reference file %s, ignoring", s.refPath)
		return
	}
	s.ref = headtrack.Pose{Valid: true, Roll: roll, Pitch: pitch, Yaw: yaw}
	log.Printf("[ref] loaded: roll=%.1f pitch=%.1f yaw=%.1f", roll, pitch, yaw)
}

// saveReference persists the reference pose to disk.
func (s *Server) saveReference() {
	s.refMu.Lock()
	ref := s.ref
	s.refMu.Unlock()
	if !ref.Valid {
		return
	}

	// Ensure directory exists
	os.MkdirAll(filepath.Dir(s.refPath), 0755)

	data := fmt.Sprintf("%.6f\n%.6f\n%.6f\n", ref.Roll, ref.Pitch, ref.Yaw)
	if err := os.WriteFile(s.refPath, []byte(data), 0644); err != nil {
		log.Printf("[ref] save failed: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// encodeJPEG compresses an RGB frame for the MJPEG stream.
func encodeJPEG(f *capture.Frame) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[i*4+0] = f.RGB[i*3+0]
		img.Pix[i*4+1] = f.RGB[i*3+1]
		img.Pix[i*4+2] = f.RGB[i*3+2]
		img.Pix[i*4+3] = 0xFF
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
