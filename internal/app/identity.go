package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"asset-register/backend/internal/audit"
	auditrepo "asset-register/backend/internal/audit/repository"
	"asset-register/backend/internal/audit/sink"
	"asset-register/backend/internal/config"
	"asset-register/backend/internal/devotp"
	identityservice "asset-register/backend/internal/identity/service"
	"asset-register/backend/internal/metrics"
	"asset-register/backend/internal/mfa"
	mfarepo "asset-register/backend/internal/mfa/repository"
	"asset-register/backend/internal/mfa/sms"
	"asset-register/backend/internal/refreshtoken"
	rtrepo "asset-register/backend/internal/refreshtoken/repository"
	"asset-register/backend/internal/security"
	"asset-register/backend/internal/session"
	sessionrepo "asset-register/backend/internal/session/repository"
	userrepo "asset-register/backend/internal/user/repository"
)

// Audit is the signed ledger and the exporter feeding it.
type Audit struct {
	Ledger *audit.Ledger
	// Dispatcher is nil when no export sink is configured.
	Dispatcher *audit.Dispatcher
}

// Close drains the export queue.
func (a *Audit) Close(ctx context.Context) error {
	if a.Dispatcher == nil {
		return nil
	}
	return a.Dispatcher.Close(ctx)
}

// NewAudit builds the ledger over Postgres with every configured export sink.
func NewAudit(infra *Infra) (*Audit, error) {
	cfg := infra.Config
	signer, err := audit.NewSigner([]byte(cfg.AuditSigningKey))
	if err != nil {
		return nil, fmt.Errorf("audit signer: %w", err)
	}
	var logs otellog.LoggerProvider
	if infra.Telemetry != nil && infra.Telemetry.Exporting {
		logs = infra.Telemetry.LoggerProvider
	}
	sinks, err := Sinks(cfg, logs)
	if err != nil {
		return nil, err
	}
	repo := auditrepo.NewPostgresRepository(infra.Pool)
	if len(sinks) == 0 {
		return &Audit{Ledger: audit.NewLedger(repo, signer, nil, infra.Log)}, nil
	}
	d := audit.NewDispatcher(sinks, cfg.AuditBufferSize, infra.Log)
	metrics.RegisterAuditExport(infra.Registry, d.Dropped, d.Failed)
	for _, s := range sinks {
		infra.Log.Info("audit export enabled", zap.String("sink", s.Name()))
	}
	return &Audit{Ledger: audit.NewLedger(repo, signer, d, infra.Log), Dispatcher: d}, nil
}

// Sinks returns the export sinks enabled by cfg. logs, when non-nil, adds the
// OTel log sink.
func Sinks(cfg *config.Config, logs otellog.LoggerProvider) ([]audit.Sink, error) {
	var out []audit.Sink
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		k, err := sink.NewKafka(brokers, cfg.AuditKafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		out = append(out, k)
	}
	if urls := cfg.ElasticsearchURLList(); len(urls) > 0 {
		es, err := sink.NewElasticsearch(sink.ElasticsearchConfig{Addresses: urls, Index: cfg.AuditESIndex})
		if err != nil {
			return nil, fmt.Errorf("audit elasticsearch sink: %w", err)
		}
		out = append(out, es)
	}
	if logs != nil {
		out = append(out, sink.NewOTelLog(logs))
	}
	return out, nil
}

// Identity is the assembled trust layer.
type Identity struct {
	Auth    *identityservice.AuthService
	Sweeper *session.Sweeper
	// DevOTP holds delivered codes in development OTP mode, otherwise nil.
	DevOTP *devotp.MemoryStore
}

// NewIdentity builds the repositories and services behind the auth API.
func NewIdentity(ctx context.Context, infra *Infra, ledger *audit.Ledger) (*Identity, error) {
	cfg, log := infra.Config, infra.Log

	tokens, err := security.NewTokenServiceFromConfig(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTSecret, security.TokenOptions{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	})
	if err != nil {
		return nil, err
	}
	log.Info("jwt signing", zap.String("alg", tokens.Algorithm()))

	hasher := security.NewHasher(security.Argon2Params{
		Memory:      cfg.Argon2MemoryKB,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
	})
	users := userrepo.NewPostgresRepository(infra.Pool)
	creds, err := identityservice.NewCredentialVerifier(users, hasher,
		identityservice.LockoutPolicy{MaxAttempts: cfg.LockoutMaxAttempts, Duration: cfg.Lockout()}, ledger, log)
	if err != nil {
		return nil, err
	}

	sessions, sweeper := newSessions(infra, tokens)

	otp, devStore, err := newOTP(ctx, infra)
	if err != nil {
		return nil, err
	}

	auth := identityservice.NewAuthService(identityservice.Deps{
		Credentials: creds,
		Users:       users,
		Sessions:    sessions,
		OTP:         otp,
		Tokens:      tokens,
		Ledger:      ledger,
		Metrics:     infra.Metrics,
		Log:         log,
	})
	sweeper.OnComplete(identityservice.SweepObserver(ledger, infra.Metrics, log))
	return &Identity{Auth: auth, Sweeper: sweeper, DevOTP: devStore}, nil
}

// NewSweeper builds a sweeper without the rest of the identity stack.
func NewSweeper(infra *Infra, ledger *audit.Ledger) *session.Sweeper {
	_, sweeper := newSessions(infra, nil)
	return sweeper.OnComplete(identityservice.SweepObserver(ledger, infra.Metrics, infra.Log))
}

func newSessions(infra *Infra, tokens *security.TokenService) (*session.Manager, *session.Sweeper) {
	cfg, log := infra.Config, infra.Log
	refresh := refreshtoken.NewStore(rtrepo.NewPostgresRepository(infra.Pool), log)
	repo := sessionrepo.NewPostgresRepository(infra.Pool)

	var lease session.Lease
	if infra.Redis != nil {
		lease = session.NewRedisLease(infra.Redis)
	}
	sweeper := session.NewSweeper(repo, refresh, lease, session.SweepOptions{
		BatchSize: cfg.SweepBatchSize,
		Timeout:   cfg.SweepDeadline(),
		Retention: cfg.Retention(),
	}, log)
	if tokens == nil {
		return nil, sweeper
	}
	return session.NewManager(repo, refresh, tokens, session.Options{DefaultTTL: cfg.DefaultSessionTTL()}, log), sweeper
}

func newOTP(ctx context.Context, infra *Infra) (*mfa.Service, *devotp.MemoryStore, error) {
	cfg, log := infra.Config, infra.Log
	engine, err := mfa.NewEngine([]byte(cfg.OTPInstituteSalt))
	if err != nil {
		return nil, nil, err
	}
	key, err := resolveOTPKey(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		return nil, nil, err
	}

	var challenges mfarepo.ChallengeStore = mfarepo.NewMemoryChallengeStore()
	if infra.Redis != nil {
		challenges = mfarepo.NewRedisChallengeStore(infra.Redis)
	}

	var (
		deliverer mfa.Deliverer
		devStore  *devotp.MemoryStore
	)
	switch {
	case cfg.OTPReturnToClient:
		devStore = devotp.NewMemoryStore()
		deliverer = devStore
		log.Warn("dev OTP mode: codes are served from /dev/otp and never sent")
	case cfg.SMSLocalAPIKey != "":
		deliverer = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	default:
		log.Warn("no SMS delivery configured; login codes come from authenticator apps only")
	}

	svc := mfa.NewService(engine, sealer, mfarepo.NewPostgresRepository(infra.Pool), challenges, deliverer, mfa.Options{
		Window:       cfg.OTPWindow,
		ChallengeTTL: cfg.ChallengeTTL(),
	}, log)
	return svc, devStore, nil
}

func resolveOTPKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	var dec security.KMSDecrypter
	if cfg.OTPEncryptionKeyKMSCiphertext != "" {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		dec = kms.NewFromConfig(awsCfg)
	}
	return security.ResolveDataKey(ctx, cfg.OTPEncryptionKey, cfg.OTPEncryptionKeyKMSCiphertext, dec)
}
