package visadirect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
)

const (
	defaultPollAttempts = 20
	defaultPollInterval = 3 * time.Second

	defaultAcquiringBIN          = "408999"
	defaultAcquirerCountryCode   = 840
	defaultMerchantCategoryCode  = 6012
	defaultBusinessApplicationID = "FT"
)

// Config is the immutable client configuration. It is built once at startup.
type Config struct {
	BaseURL               string
	UserID                string
	Password              string
	AcquiringBIN          string
	AcquirerCountryCode   int
	MerchantCategoryCode  int
	BusinessApplicationID string
	CardAcceptor          CardAcceptor
	PollAttempts          int
	PollInterval          time.Duration
}

// CardAcceptor identifies the originator location sent with every transfer.
type CardAcceptor struct {
	Name    string
	Address string
	City    string
	State   string
	ZipCode string
}

var defaultCardAcceptor = CardAcceptor{
	Name:    "PushPay",
	Address: "123 Main Street",
	City:    "San Francisco",
	State:   "CA",
	ZipCode: "94404",
}

// ConfigFrom maps the environment configuration onto a client Config.
func ConfigFrom(cfg config.VisaDirectConfig) (Config, error) {
	out := Config{
		BaseURL:               cfg.BaseURL,
		UserID:                cfg.UserID,
		Password:              cfg.Password,
		AcquiringBIN:          cfg.AcquiringBIN,
		BusinessApplicationID: cfg.BusinessApplicationID,
		CardAcceptor:          defaultCardAcceptor,
		PollAttempts:          cfg.StatusPollAttempts,
		PollInterval:          cfg.StatusPollInterval,
	}
	if name := strings.TrimSpace(cfg.CardAcceptorName); name != "" {
		out.CardAcceptor.Name = name
	}

	var err error
	if out.AcquirerCountryCode, err = parseNumericCode("acquirer country code", cfg.AcquirerCountryCode, defaultAcquirerCountryCode); err != nil {
		return Config{}, err
	}
	if out.MerchantCategoryCode, err = parseNumericCode("merchant category code", cfg.MerchantCategoryCode, defaultMerchantCategoryCode); err != nil {
		return Config{}, err
	}
	return out, nil
}

func parseNumericCode(name, raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%s must be numeric: %w", name, err)
	}
	return value, nil
}

func (c *Config) normalize() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return errors.New("visa direct base url is required")
	}
	if c.UserID == "" || c.Password == "" {
		return errors.New("visa direct credentials are required")
	}
	if c.AcquiringBIN == "" {
		c.AcquiringBIN = defaultAcquiringBIN
	}
	if c.AcquirerCountryCode == 0 {
		c.AcquirerCountryCode = defaultAcquirerCountryCode
	}
	if c.MerchantCategoryCode == 0 {
		c.MerchantCategoryCode = defaultMerchantCategoryCode
	}
	if c.BusinessApplicationID == "" {
		c.BusinessApplicationID = defaultBusinessApplicationID
	}
	if c.CardAcceptor == (CardAcceptor{}) {
		c.CardAcceptor = defaultCardAcceptor
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = defaultPollAttempts
	}
	if c.PollInterval < 0 {
		c.PollInterval = defaultPollInterval
	}
	return nil
}
