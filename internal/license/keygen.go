// internal/license/keygen.go
package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"
)

var (
	ErrNoLicenseKey = errors.New("license key is empty")
	ErrExpired      = errors.New("license has expired")
)

// Checker validates the license at startup.
type Checker interface {
	Check(ctx context.Context, key string) error
}

// Config holds keygen.sh account settings.
type Config struct {
	AccountID    string
	ProductID    string
	ProductToken string
}

// Enabled reports whether license checks are configured at all.
func (c Config) Enabled() bool {
	return c.AccountID != "" && c.ProductID != ""
}

// keygenAPI is the subset of keygen-go used here.
type keygenAPI interface {
	Validate(ctx context.Context, fingerprint string) (id string, err error)
	Activate(ctx context.Context, fingerprint string) (machineID string, err error)
}

// KeygenValidator проверяет лицензию через keygen.sh и активирует её
// на текущей машине при первом запуске.
type KeygenValidator struct {
	api         keygenAPI
	fingerprint func() (string, error)
	logger      *zap.Logger
}

// NewKeygenValidator configures the global keygen client.
func NewKeygenValidator(cfg Config, logger *zap.Logger) *KeygenValidator {
	keygen.Account = cfg.AccountID
	keygen.Product = cfg.ProductID
	keygen.Token = cfg.ProductToken

	return &KeygenValidator{
		api:         &keygenClient{},
		fingerprint: Fingerprint,
		logger:      logger.Named("license"),
	}
}

// Check validates key for this machine, activating it if needed.
func (v *KeygenValidator) Check(ctx context.Context, key string) error {
	if key == "" {
		return ErrNoLicenseKey
	}
	keygen.LicenseKey = key
	v.logger.Info("Validating license", zap.String("key", mask(key)))

	fp, err := v.fingerprint()
	if err != nil {
		return fmt.Errorf("machine fingerprint: %w", err)
	}

	id, err := v.api.Validate(ctx, fp)
	switch {
	case errors.Is(err, keygen.ErrLicenseNotActivated):
		v.logger.Info("License not activated, activating this machine")
		machineID, err := v.api.Activate(ctx, fp)
		if err != nil {
			return fmt.Errorf("activate license: %w", err)
		}
		v.logger.Info("License activated", zap.String("machine_id", machineID))
		return nil
	case errors.Is(err, keygen.ErrLicenseExpired):
		return ErrExpired
	case err != nil:
		return fmt.Errorf("license validation failed: %w", err)
	}

	v.logger.Info("License valid", zap.String("license_id", id))
	return nil
}

// Fingerprint hashes hostname, the first active MAC address and the OS.
func Fingerprint() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			macs = append(macs, iface.HardwareAddr.String())
		}
	}
	if len(macs) == 0 {
		return "", errors.New("no network interfaces found")
	}
	sort.Strings(macs)

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", host, macs[0], runtime.GOOS)))
	return fmt.Sprintf("%x", sum), nil
}

func mask(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "..."
}

type keygenClient struct {
	license *keygen.License
}

func (c *keygenClient) Validate(ctx context.Context, fingerprint string) (string, error) {
	lic, err := keygen.Validate(ctx, fingerprint)
	c.license = lic
	if err != nil {
		return "", err
	}
	if lic == nil {
		return "", errors.New("license not found")
	}
	return lic.ID, nil
}

func (c *keygenClient) Activate(ctx context.Context, fingerprint string) (string, error) {
	if c.license == nil {
		return "", errors.New("license not found")
	}
	machine, err := c.license.Activate(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	return machine.ID, nil
}
