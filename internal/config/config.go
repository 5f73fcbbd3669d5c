package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	AppPort     string
	AppEnv      string
	JWTSecret   string
	InternalKey string

	// Customer-facing pages the bank card return lands on.
	SuccessURL string
	FailureURL string

	BankCard    BankCardConfig
	Wallet      WalletConfig
	MobileMoney MobileMoneyConfig
	Delivery    DeliveryConfig
	Fiscal      FiscalConfig
}

type BankCardConfig struct {
	BaseURL      string
	ClientID     string
	Username     string
	Password     string
	OpaqueSecret string
	BackURL      string
	Timeout      time.Duration
}

type WalletConfig struct {
	PaymentURL string
	RecAccount string
	SecretKey  string
}

type MobileMoneyConfig struct {
	InvoiceURL string
	Issuer     string
	SecretKey  string
	ValidDays  int
}

type DeliveryConfig struct {
	PayURL     string
	MerchantID string
	Secret     string
	ReturnURL  string
}

type FiscalConfig struct {
	Enabled      bool
	BaseURL      string
	CertFile     string
	KeyFile      string
	CertPassword string
	CAFile       string
	CRN          string
	CashierID    int
	DepartmentID int
	InitialSeq   int64
	Timeout      time.Duration

	// Shipping line, printed only when the order carries a fee.
	ShippingAdgCode     string
	ShippingProductCode string
}

var ErrMissingDatabase = errors.New("database environment variables not loaded")

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:      os.Getenv("DB_HOST"),
		DBUser:      os.Getenv("DB_USER"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBName:      os.Getenv("DB_NAME"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		AppPort:     getEnv("APP_PORT", "8080"),
		AppEnv:      getEnv("APP_ENV", "development"),
		JWTSecret:   os.Getenv("SECRET_KEY"),
		InternalKey: os.Getenv("INTERNAL_SECRET_KEY"),
		SuccessURL:  os.Getenv("SUCCESS_URL"),
		FailureURL:  os.Getenv("FAILURE_URL"),

		BankCard: BankCardConfig{
			BaseURL:      getEnv("BANKCARD_BASE_URL", "https://services.ameriabank.am/VPOS"),
			ClientID:     os.Getenv("BANKCARD_CLIENT_ID"),
			Username:     os.Getenv("BANKCARD_USERNAME"),
			Password:     os.Getenv("BANKCARD_PASSWORD"),
			OpaqueSecret: os.Getenv("BANKCARD_OPAQUE_SECRET"),
			BackURL:      os.Getenv("BANKCARD_BACK_URL"),
			Timeout:      getDuration("BANKCARD_TIMEOUT", 15*time.Second),
		},
		Wallet: WalletConfig{
			PaymentURL: getEnv("WALLET_PAYMENT_URL", "https://banking.idram.am/Payment/GetPayment"),
			RecAccount: os.Getenv("WALLET_REC_ACCOUNT"),
			SecretKey:  os.Getenv("WALLET_SECRET_KEY"),
		},
		MobileMoney: MobileMoneyConfig{
			InvoiceURL: getEnv("MOBILEMONEY_INVOICE_URL", "https://telcellmoney.am/invoices"),
			Issuer:     os.Getenv("MOBILEMONEY_ISSUER"),
			SecretKey:  os.Getenv("MOBILEMONEY_SECRET_KEY"),
			ValidDays:  getInt("MOBILEMONEY_VALID_DAYS", 1),
		},
		Delivery: DeliveryConfig{
			PayURL:     os.Getenv("DELIVERY_PAY_URL"),
			MerchantID: os.Getenv("DELIVERY_MERCHANT_ID"),
			Secret:     os.Getenv("DELIVERY_SECRET"),
			ReturnURL:  os.Getenv("DELIVERY_RETURN_URL"),
		},
		Fiscal: FiscalConfig{
			Enabled:             getBool("EHDM_ENABLED", false),
			BaseURL:             os.Getenv("EHDM_BASE_URL"),
			CertFile:            os.Getenv("EHDM_CERT_FILE"),
			KeyFile:             os.Getenv("EHDM_KEY_FILE"),
			CertPassword:        os.Getenv("EHDM_CERT_PASSWORD"),
			CAFile:              os.Getenv("EHDM_CA_FILE"),
			CRN:                 os.Getenv("EHDM_CRN"),
			CashierID:           getInt("EHDM_CASHIER_ID", 1),
			DepartmentID:        getInt("EHDM_DEPARTMENT_ID", 1),
			InitialSeq:          int64(getInt("EHDM_INITIAL_SEQ", 1)),
			Timeout:             getDuration("EHDM_TIMEOUT", 20*time.Second),
			ShippingAdgCode:     getEnv("EHDM_SHIPPING_ADG_CODE", "49.41"),
			ShippingProductCode: getEnv("EHDM_SHIPPING_PRODUCT_CODE", "SHIPPING"),
		},
	}

	if cfg.DBHost == "" {
		return nil, ErrMissingDatabase
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
