package mfa

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-register/backend/internal/apperr"
	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/mfa/domain"
	"asset-register/backend/internal/mfa/repository"
	"asset-register/backend/internal/security"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Options tune the OTP service.
type Options struct {
	// Window is how many steps either side of the reference time are accepted.
	Window       int
	ChallengeTTL time.Duration
	MaxAttempts  int
	// Issuer labels the provisioning URI.
	Issuer string
}

// Enrollment is returned exactly once, when a device is enrolled. It is the
// only time the plaintext secret leaves the service.
type Enrollment struct {
	Device          *domain.Device
	Secret          []byte
	SecretBase32    string
	ProvisioningURI string
}

// Service enrolls OTP devices, verifies their codes and runs login challenges.
type Service struct {
	engine     *Engine
	sealer     *security.Sealer
	devices    repository.DeviceRepository
	challenges repository.ChallengeStore
	deliverer  Deliverer
	opts       Options
	log        *zap.Logger
	now        func() time.Time
}

// NewService returns a Service. deliverer may be nil when login challenges are not used.
func NewService(engine *Engine, sealer *security.Sealer, devices repository.DeviceRepository,
	challenges repository.ChallengeStore, deliverer Deliverer, opts Options, log *zap.Logger) *Service {
	if opts.Window < 0 {
		opts.Window = 0
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Issuer == "" {
		opts.Issuer = "AssetRegister"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{engine: engine, sealer: sealer, devices: devices, challenges: challenges,
		deliverer: deliverer, opts: opts, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enroll creates device deviceID for userID with a fresh secret. An empty
// deviceID gets a generated one. accountName labels the provisioning URI.
func (s *Service) Enroll(ctx context.Context, userID, accountName, deviceID, label string) (*Enrollment, error) {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, fmt.Errorf("mfa: generate secret: %w", err)
	}
	d := &domain.Device{
		ID:        deviceID,
		UserID:    userID,
		Label:     label,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	d.SecretEncrypted, err = s.sealer.Seal(secret, d.SealAAD())
	if err != nil {
		return nil, err
	}
	if err := s.devices.Create(ctx, d); err != nil {
		return nil, err
	}
	enc := b32.EncodeToString(secret)
	return &Enrollment{
		Device:          d,
		Secret:          secret,
		SecretBase32:    enc,
		ProvisioningURI: s.provisioningURI(accountName, enc),
	}, nil
}

func (s *Service) provisioningURI(account, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", s.opts.Issuer)
	q.Set("algorithm", "SHA256")
	q.Set("digits", "6")
	q.Set("period", fmt.Sprint(StepSeconds))
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + s.opts.Issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Unenroll deactivates the device. Codes for it are refused from then on.
func (s *Service) Unenroll(ctx context.Context, userID, deviceID string) error {
	d, err := s.devices.Get(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return apperr.ErrDeviceNotFound
	}
	if _, err := s.devices.Deactivate(ctx, userID, deviceID); err != nil {
		return err
	}
	return nil
}

// HasActiveDevice reports whether userID has any active device.
func (s *Service) HasActiveDevice(ctx context.Context, userID string) (bool, error) {
	d, err := s.devices.LatestActive(ctx, userID)
	return d != nil, err
}

// Reveal decrypts the secret of d.
func (s *Service) Reveal(d *domain.Device) ([]byte, error) {
	return s.sealer.Open(d.SecretEncrypted, d.SealAAD())
}

// VerifyDevice checks code for the user's device at the current time.
func (s *Service) VerifyDevice(ctx context.Context, userID, deviceID, code string) error {
	return s.verify(ctx, userID, deviceID, code, s.now())
}

// verify accepts code if it matches within the window around any of refs, then
// records the step so the same code cannot be used twice.
func (s *Service) verify(ctx context.Context, userID, deviceID, code string, refs ...time.Time) error {
	d, err := s.devices.Get(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return apperr.ErrDeviceNotFound
	}
	if !d.Active {
		return apperr.ErrDeviceInactive
	}
	secret, err := s.Reveal(d)
	if err != nil {
		return err
	}
	var (
		step int64
		ok   bool
	)
	for _, ref := range refs {
		if step, ok = s.engine.Verify(d.ID, secret, code, s.opts.Window, ref); ok {
			break
		}
	}
	if !ok || step <= d.LastUsedStep {
		return apperr.ErrInvalidCode
	}
	marked, err := s.devices.MarkUsed(ctx, userID, deviceID, step, s.now().UTC())
	if err != nil {
		return err
	}
	if !marked {
		return apperr.ErrInvalidCode
	}
	return nil
}

// Begin opens a login challenge for userID on their latest active device and
// delivers the current code to phone.
func (s *Service) Begin(ctx context.Context, userID, phone string, dev devicedomain.Info) (*domain.Challenge, error) {
	d, err := s.devices.LatestActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperr.ErrDeviceNotFound
	}
	secret, err := s.Reveal(d)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &domain.Challenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		OTPDeviceID: d.ID,
		Device:      dev,
		ExpiresAt:   now.Add(s.opts.ChallengeTTL),
		CreatedAt:   now,
	}
	if err := s.challenges.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("mfa: store challenge: %w", err)
	}
	if s.deliverer != nil {
		code := s.engine.Generate(d.ID, secret, now)
		err := s.deliverer.Deliver(ctx, Delivery{ChallengeID: c.ID, UserID: userID, Phone: phone, Code: code, ExpiresAt: c.ExpiresAt})
		if err != nil {
			_, _ = s.challenges.Consume(ctx, c.ID)
			return nil, fmt.Errorf("mfa: deliver code: %w", err)
		}
	}
	return c, nil
}

// Complete answers challengeID with code. A delivered code stays valid for the
// life of the challenge, so it is checked against both the issue time and now.
// The challenge is consumed on success and after too many attempts.
func (s *Service) Complete(ctx context.Context, challengeID, code string) (*domain.Challenge, error) {
	c, err := s.challenges.Get(ctx, challengeID)
	if errors.Is(err, repository.ErrChallengeNotFound) {
		return nil, apperr.ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	attempts, err := s.challenges.IncrAttempts(ctx, challengeID)
	if errors.Is(err, repository.ErrChallengeNotFound) {
		return nil, apperr.ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	if attempts > s.opts.MaxAttempts {
		_, _ = s.challenges.Consume(ctx, challengeID)
		s.log.Warn("mfa challenge attempts exhausted", zap.String("user_id", c.UserID), zap.String("challenge_id", c.ID))
		return nil, apperr.ErrChallengeNotFound
	}
	if err := s.verify(ctx, c.UserID, c.OTPDeviceID, code, c.CreatedAt, s.now()); err != nil {
		return nil, err
	}
	consumed, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, apperr.ErrChallengeNotFound
	}
	return c, nil
}
