package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
	"github.com/rs/zerolog"
)

// DefaultConnectTimeout bounds every device connection attempt.
const DefaultConnectTimeout = 5 * time.Second

// RouterServiceConfig contains configuration for RouterService.
type RouterServiceConfig struct {
	ConnectTimeout time.Duration
	Provisioning   router.ProvisioningOptions
}

// RouterService translates billing state into device state.
//
// Every operation opens a fresh session, runs, and closes it. Operations
// never return a Go error for device failures: they report them in the
// result so callers can relay the message verbatim. Nothing is retried here.
type RouterService struct {
	dialer  ports.DeviceDialer
	store   ports.RouterStore
	cipher  ports.Cipher
	clock   ports.Clock
	ids     ports.IDGenerator
	metrics ports.Metrics
	logger  zerolog.Logger
	cfg     RouterServiceConfig
}

// NewRouterService creates a router enforcement service.
func NewRouterService(
	dialer ports.DeviceDialer,
	store ports.RouterStore,
	cipher ports.Cipher,
	clock ports.Clock,
	ids ports.IDGenerator,
	metrics ports.Metrics,
	logger zerolog.Logger,
	cfg RouterServiceConfig,
) *RouterService {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Provisioning.PoolName == "" {
		path := cfg.Provisioning.ReminderPath
		cfg.Provisioning = router.DefaultProvisioningOptions()
		if path != "" {
			cfg.Provisioning.ReminderPath = path
		}
	}
	return &RouterService{
		dialer:  dialer,
		store:   store,
		cipher:  cipher,
		clock:   clock,
		ids:     ids,
		metrics: metricsOrNop(metrics),
		logger:  logger.With().Str("service", "router").Logger(),
		cfg:     cfg,
	}
}

// withSession connects to r, runs fn and always closes the session.
// The returned error is always a *router.Error.
func (s *RouterService) withSession(ctx context.Context, op string, r router.Router, fn func(ports.DeviceSession) error) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveRouterOp(op, string(router.KindOf(err)), time.Since(start))
		if err != nil {
			s.logger.Warn().Str("router", r.Name).Str("op", op).
				Str("kind", string(router.KindOf(err))).Err(err).Msg("router operation failed")
		}
	}()

	if !r.IsConfigured() {
		return router.ErrNotConfigured
	}
	password, err := s.cipher.Decrypt(r.Password)
	if err != nil {
		return router.Wrap(router.KindNotConfigured, fmt.Errorf("decrypt router password: %w", err))
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(r.Host, strconv.Itoa(r.APIPort()))
	sess, err := s.dialer.Dial(dialCtx, addr, r.Username, password)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return router.ErrTimeout
		}
		return router.Wrap(router.KindConnectivity, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Str("op", op).Msg("close session")
		}
	}()

	if err := fn(sess); err != nil {
		var rerr *router.Error
		if errors.As(err, &rerr) {
			return rerr
		}
		return router.Wrap(router.KindDevice, err)
	}
	return nil
}

// CheckHealth reads the device identity.
func (s *RouterService) CheckHealth(ctx context.Context, r router.Router) router.HealthResult {
	var name string
	err := s.withSession(ctx, "check_health", r, func(sess ports.DeviceSession) error {
		rows, err := sess.Print(router.MenuIdentity, nil)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			name = rows[0]["name"]
		}
		return nil
	})
	if err != nil {
		return router.HealthResult{Connected: false, Message: router.MessageOf(err), Kind: router.KindOf(err)}
	}
	msg := "Connected"
	if name != "" {
		msg = "Connected to " + name
	}
	return router.HealthResult{Connected: true, Message: msg, Name: name}
}

// TestConnection runs CheckHealth against a stored router and records the outcome.
func (s *RouterService) TestConnection(ctx context.Context, id string) (router.HealthResult, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return router.HealthResult{}, err
	}

	res := s.CheckHealth(ctx, r)

	now := s.clock.Now()
	r.LastChecked = &now
	r.Status = router.StatusOffline
	if res.Connected {
		r.Status = router.StatusOnline
	}
	if err := s.store.Update(ctx, r); err != nil {
		return res, fmt.Errorf("record router status: %w", err)
	}
	return res, nil
}

// CreateOrUpdateSecret upserts a PPP secret by username. A password is
// required only when the secret does not exist yet. Encrypted passwords
// are decrypted before they are sent.
func (s *RouterService) CreateOrUpdateSecret(ctx context.Context, r router.Router, cred router.Credential) router.Result {
	if cred.Username == "" {
		return router.Failure(router.Errorf(router.KindInvalidInput, "PPPoE username is required"))
	}
	password, err := s.cipher.Decrypt(cred.Password)
	if err != nil {
		return router.Failure(router.Wrap(router.KindInvalidInput, fmt.Errorf("decrypt PPPoE password: %w", err)))
	}

	action := router.ActionUpdated
	err = s.withSession(ctx, "upsert_secret", r, func(sess ports.DeviceSession) error {
		row, found, err := findOne(sess, router.MenuSecret, map[string]string{"name": cred.Username})
		if err != nil {
			return err
		}

		if !found {
			if password == "" {
				return router.Errorf(router.KindInvalidInput, "Password is required to create PPPoE secret '%s'", cred.Username)
			}
			attrs := map[string]string{"name": cred.Username, "password": password, "service": "pppoe"}
			if cred.Profile != "" {
				attrs["profile"] = cred.Profile
			}
			action = router.ActionCreated
			_, err := sess.Add(router.MenuSecret, attrs)
			return err
		}

		attrs := map[string]string{}
		if password != "" {
			attrs["password"] = password
		}
		if cred.Profile != "" {
			attrs["profile"] = cred.Profile
		}
		if len(attrs) == 0 {
			return nil
		}
		return sess.Set(router.MenuSecret, row[".id"], attrs)
	})
	if err != nil {
		return router.Failure(err)
	}

	s.logger.Info().Str("router", r.Name).Str("username", cred.Username).Str("action", action).Msg("PPPoE secret saved")
	return router.Result{Success: true, Action: action, Message: fmt.Sprintf("PPPoE secret %s", action)}
}

// TogglePppoeSecret enables or disables a secret. Disabling also removes
// any live session so the change applies immediately.
func (s *RouterService) TogglePppoeSecret(ctx context.Context, r router.Router, username string, enable bool) router.Result {
	if username == "" {
		return router.Failure(router.Errorf(router.KindInvalidInput, "PPPoE username is required"))
	}

	var warnings []string
	err := s.withSession(ctx, "toggle_secret", r, func(sess ports.DeviceSession) error {
		row, found, err := findOne(sess, router.MenuSecret, map[string]string{"name": username})
		if err != nil {
			return err
		}
		if !found {
			return router.NotFound(username)
		}
		if err := sess.Set(router.MenuSecret, row[".id"], map[string]string{"disabled": yesNo(!enable)}); err != nil {
			return err
		}
		if !enable {
			warnings = s.kick(sess, username)
		}
		return nil
	})
	if err != nil {
		return router.Failure(err)
	}

	state := "enabled"
	if !enable {
		state = "disabled"
	}
	s.logger.Info().Str("router", r.Name).Str("username", username).Str("state", state).Msg("PPPoE secret toggled")
	return router.Result{
		Success:  true,
		Enabled:  &enable,
		Message:  fmt.Sprintf("PPPoE secret '%s' %s", username, state),
		Warnings: warnings,
	}
}

// SetPppoeProfile changes a secret's profile and drops its live session
// so the new profile applies on reconnect.
func (s *RouterService) SetPppoeProfile(ctx context.Context, r router.Router, username, profile string) router.Result {
	if username == "" || profile == "" {
		return router.Failure(router.Errorf(router.KindInvalidInput, "PPPoE username and profile are required"))
	}

	var warnings []string
	err := s.withSession(ctx, "set_profile", r, func(sess ports.DeviceSession) error {
		row, found, err := findOne(sess, router.MenuSecret, map[string]string{"name": username})
		if err != nil {
			return err
		}
		if !found {
			return router.NotFound(username)
		}
		if err := sess.Set(router.MenuSecret, row[".id"], map[string]string{"profile": profile}); err != nil {
			return err
		}
		warnings = s.kick(sess, username)
		return nil
	})
	if err != nil {
		return router.Failure(err)
	}
	return router.Result{
		Success:  true,
		Action:   router.ActionUpdated,
		Message:  fmt.Sprintf("PPPoE profile set to '%s'", profile),
		Warnings: warnings,
	}
}

// DeleteSecret removes a secret and its live session. Deleting a secret
// that does not exist succeeds.
func (s *RouterService) DeleteSecret(ctx context.Context, r router.Router, username string) router.Result {
	if username == "" {
		return router.Failure(router.Errorf(router.KindInvalidInput, "PPPoE username is required"))
	}

	var (
		warnings []string
		existed  bool
	)
	err := s.withSession(ctx, "delete_secret", r, func(sess ports.DeviceSession) error {
		row, found, err := findOne(sess, router.MenuSecret, map[string]string{"name": username})
		if err != nil || !found {
			return err
		}
		existed = true
		warnings = s.kick(sess, username)
		return sess.Remove(router.MenuSecret, row[".id"])
	})
	if err != nil {
		return router.Failure(err)
	}
	if !existed {
		return router.Result{Success: true, Message: fmt.Sprintf("PPPoE secret '%s' not present", username)}
	}
	return router.Result{
		Success:  true,
		Action:   router.ActionDeleted,
		Message:  fmt.Sprintf("PPPoE secret '%s' deleted", username),
		Warnings: warnings,
	}
}

// GetProfiles lists PPP profiles on the device.
func (s *RouterService) GetProfiles(ctx context.Context, r router.Router) router.ProfilesResult {
	var profiles []router.Profile
	err := s.withSession(ctx, "get_profiles", r, func(sess ports.DeviceSession) error {
		rows, err := sess.Print(router.MenuProfile, nil)
		if err != nil {
			return err
		}
		profiles = make([]router.Profile, 0, len(rows))
		for _, row := range rows {
			profiles = append(profiles, router.Profile{
				Name:          row["name"],
				LocalAddress:  row["local-address"],
				RemoteAddress: row["remote-address"],
				RateLimit:     row["rate-limit"],
			})
		}
		return nil
	})
	if err != nil {
		return router.ProfilesResult{Result: router.Failure(err)}
	}
	return router.ProfilesResult{
		Result:   router.Result{Success: true, Message: fmt.Sprintf("%d profiles", len(profiles))},
		Profiles: profiles,
	}
}

// GetPppoeStatus reports a credential's state and whether it has a live session.
func (s *RouterService) GetPppoeStatus(ctx context.Context, r router.Router, username string) router.StatusResult {
	if username == "" {
		return router.StatusResult{Result: router.Failure(router.Errorf(router.KindInvalidInput, "PPPoE username is required"))}
	}

	var out router.StatusResult
	err := s.withSession(ctx, "get_status", r, func(sess ports.DeviceSession) error {
		row, found, err := findOne(sess, router.MenuSecret, map[string]string{"name": username})
		if err != nil {
			return err
		}
		out.State = router.StateOf(row, found)
		out.Profile = row["profile"]

		active, ok, err := findOne(sess, router.MenuActive, map[string]string{"name": username})
		if err != nil {
			return err
		}
		out.Online = ok
		out.Address = active["address"]
		out.Uptime = active["uptime"]
		return nil
	})
	if err != nil {
		return router.StatusResult{Result: router.Failure(err)}
	}

	out.Success = true
	out.Message = fmt.Sprintf("PPPoE secret '%s' is %s", username, out.State)
	if out.Online {
		out.Message += " and online"
	}
	return out
}

// PushConfig applies the provisioning plan. Each step is idempotent and a
// failed step is logged and reported as a warning without stopping the rest.
func (s *RouterService) PushConfig(ctx context.Context, r router.Router, serverAddressInput string) router.Result {
	steps, ep, err := router.BuildProvisioningPlan(serverAddressInput, s.cfg.Provisioning)
	if err != nil {
		return router.Failure(err)
	}

	var warnings []string
	err = s.withSession(ctx, "push_config", r, func(sess ports.DeviceSession) error {
		for _, step := range steps {
			if err := applyStep(sess, step); err != nil {
				s.logger.Warn().Str("router", r.Name).Str("step", step.Describe()).Err(err).Msg("provisioning step failed")
				warnings = append(warnings, fmt.Sprintf("%s: %v", step.Name, err))
			}
		}
		return nil
	})
	if err != nil {
		return router.Failure(err)
	}

	msg := fmt.Sprintf("Configuration pushed (reminder at %s)", ep.URL(s.cfg.Provisioning.ReminderPath))
	if len(warnings) > 0 {
		msg = fmt.Sprintf("Configuration pushed with %d of %d steps failing", len(warnings), len(steps))
	}
	s.logger.Info().Str("router", r.Name).Int("steps", len(steps)).Int("failed", len(warnings)).Msg("configuration pushed")
	return router.Result{Success: true, Message: msg, Warnings: warnings}
}

func applyStep(sess ports.DeviceSession, step router.Step) error {
	if step.Singleton {
		return sess.Set(step.Menu, "", step.Attrs)
	}
	row, found, err := findOne(sess, step.Menu, step.Match)
	if err != nil {
		return err
	}
	if found {
		return sess.Set(step.Menu, row[".id"], step.Attrs)
	}
	_, err = sess.Add(step.Menu, step.Attrs)
	return err
}

// kick removes live sessions for username. Failures are returned as
// warnings: the credential change already happened.
func (s *RouterService) kick(sess ports.DeviceSession, username string) []string {
	rows, err := sess.Print(router.MenuActive, map[string]string{"name": username})
	if err != nil {
		s.logger.Warn().Str("username", username).Err(err).Msg("list active sessions")
		return []string{"could not list active sessions: " + err.Error()}
	}
	var warnings []string
	for _, row := range rows {
		if err := sess.Remove(router.MenuActive, row[".id"]); err != nil {
			s.logger.Warn().Str("username", username).Err(err).Msg("remove active session")
			warnings = append(warnings, "could not remove active session: "+err.Error())
		}
	}
	return warnings
}

func findOne(sess ports.DeviceSession, menu string, where map[string]string) (map[string]string, bool, error) {
	rows, err := sess.Print(menu, where)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return map[string]string{}, false, nil
	}
	return rows[0], true, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// -----------------------------------------------------------------------------
// Router records
// -----------------------------------------------------------------------------

// RouterInput creates or updates a router record. An empty Password on
// update keeps the stored one.
type RouterInput struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host" validate:"required"`
	Port      int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password"`
	IsDefault bool   `json:"isDefault"`
}

// SaveRouter validates in, encrypts the password and stores the record.
// The password may be empty, as on a factory-default admin account.
// The first router saved becomes the default.
func (s *RouterService) SaveRouter(ctx context.Context, in RouterInput) (router.Router, error) {
	if err := validateStruct(in); err != nil {
		return router.Router{}, err
	}

	var (
		r      router.Router
		create = in.ID == ""
	)
	if !create {
		existing, err := s.store.Get(ctx, in.ID)
		if err != nil {
			return router.Router{}, err
		}
		r = existing
	} else {
		r = router.Router{ID: s.ids.New(), Status: router.StatusUnknown, CreatedAt: s.clock.Now()}
		existing, err := s.store.List(ctx)
		if err != nil {
			return router.Router{}, err
		}
		if len(existing) == 0 {
			in.IsDefault = true
		}
	}

	r.Name = in.Name
	if r.Name == "" {
		r.Name = in.Host
	}
	r.Host = in.Host
	r.Port = in.Port
	if r.Port == 0 {
		r.Port = router.DefaultPort
	}
	r.Username = in.Username
	r.IsDefault = in.IsDefault || (!create && r.IsDefault)
	r.UpdatedAt = s.clock.Now()

	if in.Password != "" {
		enc, err := s.encrypt(in.Password)
		if err != nil {
			return router.Router{}, err
		}
		r.Password = enc
	}

	if create {
		err := s.store.Create(ctx, r)
		return r, err
	}
	return r, s.store.Update(ctx, r)
}

func (s *RouterService) encrypt(v string) (string, error) {
	if s.cipher.IsEncrypted(v) {
		return v, nil
	}
	enc, err := s.cipher.Encrypt(v)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return enc, nil
}

// GetRouter returns a stored router.
func (s *RouterService) GetRouter(ctx context.Context, id string) (router.Router, error) {
	return s.store.Get(ctx, id)
}

// ListRouters returns all stored routers.
func (s *RouterService) ListRouters(ctx context.Context) ([]router.Router, error) {
	return s.store.List(ctx)
}

// ResolveRouter returns the router with id, or the default router when id
// is empty. A missing record yields an empty Router, which every operation
// reports as not configured.
func (s *RouterService) ResolveRouter(ctx context.Context, id string) (router.Router, error) {
	var (
		r   router.Router
		err error
	)
	if id == "" {
		r, err = s.store.GetDefault(ctx)
	} else {
		r, err = s.store.Get(ctx, id)
	}
	if errors.Is(err, ports.ErrNotFound) {
		return router.Router{}, nil
	}
	return r, err
}
