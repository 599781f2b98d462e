package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"gorm.io/gorm"

	"dronesync-desktop/internal/api"
	"dronesync-desktop/internal/config"
	"dronesync-desktop/internal/credentials"
	"dronesync-desktop/internal/database"
	"dronesync-desktop/internal/logging"
	"dronesync-desktop/internal/models"
	"dronesync-desktop/internal/realtime"
	"dronesync-desktop/internal/services/monitor"
	"dronesync-desktop/internal/services/projector"
	"dronesync-desktop/internal/services/pushcache"
	"dronesync-desktop/internal/statusapi"
)

// Version is set at build time.
var Version = "dev"

var log = logging.Get("app")

// App struct - main application state
type App struct {
	ctx    context.Context
	cfg    *config.Config
	db     *gorm.DB
	status *statusapi.Server

	// startMu serialises session swaps; mu guards the fields below it.
	startMu sync.Mutex
	mu      sync.RWMutex
	session *monitor.Session
	profile *models.Profile

	// events overrides the Wails event sink when set.
	events monitor.Notifier
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration, using defaults: %v\n", err)
		cfg = config.Default()
	}
	a.cfg = cfg

	if err := logging.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Invalid log level %q: %v\n", cfg.LogLevel, err)
	}
	log.Info("Application starting up...")

	db, err := database.Init(cfg.Database, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	a.db = db
	log.Info("Database initialized successfully")

	if cfg.Status.Addr != "" {
		a.status = statusapi.NewServer(sessionProvider{app: a}, Version)
		if err := a.status.Start(cfg.Status.Addr); err != nil {
			log.Warningf("Status API disabled: %v", err)
			a.status = nil
		}
	}

	log.Info("Startup complete")
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	log.Info("Application shutting down...")

	a.StopMonitoring()

	if a.status != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.status.Shutdown(shutdownCtx); err != nil {
			log.Warningf("Error stopping status API: %v", err)
		}
	}

	if err := database.Close(); err != nil {
		log.Errorf("Error closing database: %v", err)
	}

	log.Info("Shutdown complete")
}

// ====================================================================================
// WAILS-BOUND METHODS - Exposed to Frontend
// ====================================================================================

// Profile Management Methods

// ListProfiles returns all operator profiles
func (a *App) ListProfiles() ([]ProfileResponse, error) {
	var profiles []models.Profile
	if err := a.db.Order("name").Find(&profiles).Error; err != nil {
		return nil, err
	}

	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, ProfileResponse{Profile: p, HasToken: credentials.HasToken(p.ID)})
	}
	return out, nil
}

// GetProfile retrieves a specific profile by ID
func (a *App) GetProfile(profileID string) (*models.Profile, error) {
	var profile models.Profile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreateProfile creates a new profile and stores its token in the keychain
// NOTE: Frontend should call TestConnection() before calling this method
func (a *App) CreateProfile(req ProfileRequest) (*models.Profile, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}

	profile := &models.Profile{
		Name:            strings.TrimSpace(req.Name),
		BaseURL:         strings.TrimSpace(req.BaseURL),
		Operator:        strings.TrimSpace(req.Operator),
		AuthorizedAreas: req.AuthorizedAreas,
	}
	if err := a.db.Create(profile).Error; err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	if err := credentials.SaveToken(profile.ID, req.Token); err != nil {
		a.db.Delete(profile)
		return nil, err
	}
	return profile, nil
}

// UpdateProfile updates an existing profile. An empty token keeps the stored one.
func (a *App) UpdateProfile(profileID string, req ProfileRequest) error {
	if err := req.validate(false); err != nil {
		return err
	}

	var profile models.Profile
	if err := a.db.Where("id = ?", profileID).First(&profile).Error; err != nil {
		return err
	}

	profile.Name = strings.TrimSpace(req.Name)
	profile.BaseURL = strings.TrimSpace(req.BaseURL)
	profile.Operator = strings.TrimSpace(req.Operator)
	profile.AuthorizedAreas = req.AuthorizedAreas

	if req.Token != "" {
		if err := credentials.SaveToken(profile.ID, req.Token); err != nil {
			return err
		}
	}

	return a.db.Save(&profile).Error
}

// DeleteProfile deletes a profile and its stored token
func (a *App) DeleteProfile(profileID string) error {
	a.mu.RLock()
	active := a.profile != nil && a.profile.ID == profileID
	a.mu.RUnlock()
	if active {
		a.StopMonitoring()
	}

	if err := credentials.DeleteToken(profileID); err != nil {
		log.Warningf("Failed to remove token of profile %s: %v", profileID, err)
	}
	return a.db.Where("id = ?", profileID).Delete(&models.Profile{}).Error
}

// Monitoring Methods

// StartMonitoring opens a monitoring session for a profile, replacing any
// running session.
func (a *App) StartMonitoring(profileID string) (*monitor.Status, error) {
	profile, err := a.GetProfile(profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	token, err := credentials.LoadToken(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	a.startMu.Lock()
	defer a.startMu.Unlock()

	a.stopSession()

	session := monitor.NewSession(a.sessionConfig(profile), a.newClient(profile.BaseURL, token), a.newPushChannel(),
		monitor.WithDB(a.db),
		monitor.WithNotifier(a.notifier()),
	)
	if err := session.Start(a.ctx); err != nil {
		return nil, fmt.Errorf("failed to start monitoring: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.profile = profile
	a.mu.Unlock()

	st := session.Status()
	return &st, nil
}

// StopMonitoring tears down the running session, if any
func (a *App) StopMonitoring() {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	a.stopSession()
}

// stopSession requires startMu.
func (a *App) stopSession() {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.profile = nil
	a.mu.Unlock()

	if session != nil {
		session.Stop()
	}
}

// GetProgress returns the projected progress of every work unit
func (a *App) GetProgress() ([]projector.Progress, error) {
	session := a.activeSession()
	if session == nil {
		return nil, errNoSession
	}
	return session.Progress(), nil
}

// GetStatus returns the monitoring session overview
func (a *App) GetStatus() (*monitor.Status, error) {
	session := a.activeSession()
	if session == nil {
		return nil, errNoSession
	}
	st := session.Status()
	return &st, nil
}

// ResyncNow runs an immediate resync of the active session
func (a *App) ResyncNow() (*models.ResyncRun, error) {
	session := a.activeSession()
	if session == nil {
		return nil, errNoSession
	}
	run := session.Resync(a.ctx, monitor.TriggerManual)
	return &run, nil
}

// ListResyncRuns retrieves recent resync history across sessions
func (a *App) ListResyncRuns(limit int) ([]models.ResyncRun, error) {
	if limit <= 0 {
		limit = 10 // Default to 10 most recent runs
	}
	return monitor.RecentRuns(a.db, "", limit)
}

// TestConnection checks a base URL and token without saving anything
func (a *App) TestConnection(req TestConnectionRequest) TestConnectionResponse {
	client := a.newClient(req.BaseURL, req.Token)

	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	records, err := client.FetchUploadDetails(ctx, time.Now())
	if err != nil {
		errorMsg := fmt.Sprintf("Connection failed: %v", err)
		switch {
		case errors.Is(err, api.ErrUnsuccessful):
			errorMsg = "Server rejected the request (check the API token)"
		case strings.Contains(err.Error(), "HTTP 401"):
			errorMsg = "Invalid or expired API token"
		case strings.Contains(err.Error(), "HTTP 403"):
			errorMsg = "Access forbidden (check operator permissions)"
		case strings.Contains(err.Error(), "HTTP 404"):
			errorMsg = "Server not found or invalid URL"
		}
		return TestConnectionResponse{Success: false, Error: errorMsg}
	}

	return TestConnectionResponse{Success: true, RecordsToday: len(records)}
}

// ====================================================================================
// HELPERS
// ====================================================================================

var errNoSession = errors.New("no active monitoring session")

func (a *App) activeSession() *monitor.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *App) sessionConfig(profile *models.Profile) monitor.Config {
	return monitor.Config{
		Operator:           profile.Operator,
		AuthorizedAreas:    profile.Areas(),
		Channel:            a.cfg.Push.Channel,
		Event:              a.cfg.Push.Event,
		HealthTick:         a.cfg.Health.Tick,
		SilenceThreshold:   a.cfg.Health.SilenceThreshold,
		NormalInterval:     a.cfg.Polling.Normal,
		AggressiveInterval: a.cfg.Polling.Aggressive,
		RelayInterval:      a.cfg.Relay.Interval,
		RelayConcurrency:   a.cfg.Relay.Concurrency,
		Supersede:          pushcache.PolicyByName(a.cfg.Push.Supersede),
	}
}

func (a *App) newClient(baseURL, token string) *api.Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = a.cfg.API.BaseURL
	}
	client := api.NewClient(baseURL, token)
	client.SetTimeout(a.cfg.API.Timeout)
	client.SetRetry(a.cfg.API.RetryCount, 0)
	return client
}

// newPushChannel returns nil when no push URL is configured; the session
// then runs on polling alone.
func (a *App) newPushChannel() monitor.PushChannel {
	if a.cfg.Push.URL == "" {
		return nil
	}
	return realtime.NewClient(a.cfg.Push.URL)
}

func (a *App) notifier() monitor.Notifier {
	if a.events != nil {
		return a.events
	}
	return monitor.NotifierFunc(a.emit)
}

func (a *App) emit(event string, payload interface{}) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, event, payload)
}

// sessionProvider serves the status API from the active session.
type sessionProvider struct {
	app *App
}

func (p sessionProvider) Status() (monitor.Status, bool) {
	session := p.app.activeSession()
	if session == nil {
		return monitor.Status{}, false
	}
	return session.Status(), true
}

func (p sessionProvider) Progress() ([]projector.Progress, bool) {
	session := p.app.activeSession()
	if session == nil {
		return nil, false
	}
	return session.Progress(), true
}

func (p sessionProvider) Runs(limit int) ([]models.ResyncRun, error) {
	return monitor.RecentRuns(p.app.db, "", limit)
}

// ====================================================================================
// REQUEST/RESPONSE TYPES
// ====================================================================================

// ProfileRequest represents a request to create/update a profile
type ProfileRequest struct {
	Name            string `json:"name"`
	BaseURL         string `json:"base_url"`
	Operator        string `json:"operator"`
	AuthorizedAreas string `json:"authorized_areas"` // comma separated, empty = all
	Token           string `json:"token"`            // Plain text, stored in the keychain
}

func (r ProfileRequest) validate(requireToken bool) error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("profile name is required")
	}
	if strings.TrimSpace(r.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	if strings.TrimSpace(r.Operator) == "" {
		return errors.New("operator is required")
	}
	if requireToken && strings.TrimSpace(r.Token) == "" {
		return errors.New("API token is required")
	}
	return nil
}

// ProfileResponse is a profile plus whether a token is stored for it
type ProfileResponse struct {
	models.Profile
	HasToken bool `json:"has_token"`
}

// TestConnectionRequest represents a connection test request
type TestConnectionRequest struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// TestConnectionResponse represents the test result
type TestConnectionResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	RecordsToday int    `json:"records_today"`
}
