package utils

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных.
//
// Функции:
// - ValidateSymbol: проверка формата символа (BTCUSDT)
// - ValidateSpread: проверка спреда (> 0)
// - ValidateVolume: проверка объема (> 0)
// - ValidateNOrders: проверка количества ордеров (≥ 1)
// - ValidateEmail: проверка email формата
// - ValidateAPIKey: базовая проверка API ключа
//
// Возвращает error с описанием проблемы или nil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidSymbol       = errors.New("invalid symbol format")
	ErrInvalidSpread       = errors.New("spread must be in (0, 100]")
	ErrInvalidVolume       = errors.New("volume must be in (0, 1e9]")
	ErrInvalidNOrders      = errors.New("order count must be in [1, 100]")
	ErrInvalidStopLoss     = errors.New("stop-loss must be in (0, 100]")
	ErrInvalidLeverage     = errors.New("leverage must be in [1, 100]")
	ErrInvalidPercentage   = errors.New("percentage must be in [0, 100]")
	ErrInvalidEmail        = errors.New("invalid email format")
	ErrInvalidAPIKey       = errors.New("invalid API key format")
	ErrInvalidAPISecret    = errors.New("invalid API secret format")
	ErrInvalidAPIPassphrase = errors.New("API passphrase too long")
	ErrInvalidExchange     = errors.New("unsupported exchange")
	ErrSameExchange        = errors.New("exchanges must differ")
)

// SupportedExchanges lists the exchange names ValidateExchange accepts.
var SupportedExchanges = []string{"bybit", "bitget", "okx", "gate", "htx", "bingx"}

// GetSupportedExchanges returns a copy of SupportedExchanges; callers may
// not mutate the package-level slice through it.
func GetSupportedExchanges() []string {
	out := make([]string, len(SupportedExchanges))
	copy(out, SupportedExchanges)
	return out
}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9_/-]{2,20}$`)

// ValidateSymbol checks that a trading symbol is a short alphanumeric token
// optionally separated by '-', '_' or '/' (BTCUSDT, BTC-USDT, btc_usdt, ...).
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol reports whether ValidateSymbol accepts symbol.
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

var symbolSeparators = strings.NewReplacer("-", "", "_", "", "/", "")

// NormalizeSymbol uppercases a symbol and strips separator characters.
func NormalizeSymbol(symbol string) string {
	return symbolSeparators.Replace(strings.ToUpper(symbol))
}

// quoteCurrencies is ordered longest-first so a suffix match picks the most
// specific quote currency (USDT before USD, for instance).
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "DAI", "USD", "BTC", "ETH"}

// splitCurrencyPair normalizes symbol and splits it into base/quote by
// matching a known quote-currency suffix. Returns ("", "") if no known
// quote currency matches.
func splitCurrencyPair(symbol string) (base, quote string) {
	normalized := NormalizeSymbol(symbol)
	for _, q := range quoteCurrencies {
		if len(normalized) > len(q) && strings.HasSuffix(normalized, q) {
			return normalized[:len(normalized)-len(q)], q
		}
	}
	return "", ""
}

// ExtractBaseCurrency returns the base currency of a trading pair symbol,
// e.g. "BTC" from "BTC-USDT".
func ExtractBaseCurrency(symbol string) string {
	base, _ := splitCurrencyPair(symbol)
	return base
}

// ExtractQuoteCurrency returns the quote currency of a trading pair symbol,
// e.g. "USDT" from "BTC-USDT".
func ExtractQuoteCurrency(symbol string) string {
	_, quote := splitCurrencyPair(symbol)
	return quote
}

// ValidateSpread checks a spread expressed in percent is within (0, 100].
func ValidateSpread(spread float64) error {
	if spread <= 0 || spread > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidSpread, spread)
	}
	return nil
}

// ValidateVolume checks an order volume is within (0, 1e9].
func ValidateVolume(volume float64) error {
	if volume <= 0 || volume > 1e9 {
		return fmt.Errorf("%w: got %v", ErrInvalidVolume, volume)
	}
	return nil
}

// ValidateNOrders checks a per-leg order-split count is within [1, 100].
func ValidateNOrders(n int) error {
	if n < 1 || n > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidNOrders, n)
	}
	return nil
}

// ValidateStopLoss checks a stop-loss percentage is within (0, 100].
func ValidateStopLoss(sl float64) error {
	if sl <= 0 || sl > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidStopLoss, sl)
	}
	return nil
}

// ValidateLeverage checks a leverage multiplier is within [1, 100].
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidLeverage, leverage)
	}
	return nil
}

// ValidatePercentage checks a value is within [0, 100].
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidPercentage, pct)
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEmail checks a basic email address shape.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// IsValidEmail reports whether ValidateEmail accepts email.
func IsValidEmail(email string) bool {
	return ValidateEmail(email) == nil
}

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// ValidateAPIKey checks an API key is at least 16 alphanumeric/dash/
// underscore characters.
func ValidateAPIKey(apiKey string) error {
	if !apiKeyPattern.MatchString(apiKey) {
		return fmt.Errorf("%w", ErrInvalidAPIKey)
	}
	return nil
}

// IsValidAPIKey reports whether ValidateAPIKey accepts apiKey.
func IsValidAPIKey(apiKey string) bool {
	return ValidateAPIKey(apiKey) == nil
}

// ValidateAPISecret checks an API secret is at least 16 characters; unlike
// ValidateAPIKey it places no character-set restriction since venue secrets
// commonly include symbols.
func ValidateAPISecret(secret string) error {
	if len(secret) < 16 || len(secret) > 256 {
		return fmt.Errorf("%w", ErrInvalidAPISecret)
	}
	return nil
}

// ValidateAPIPassphrase checks an optional venue passphrase (OKX, bitget)
// does not exceed a sane length. An empty passphrase is valid since most
// venues don't require one.
func ValidateAPIPassphrase(passphrase string) error {
	if len(passphrase) > 64 {
		return fmt.Errorf("%w", ErrInvalidAPIPassphrase)
	}
	return nil
}

// NormalizeExchange lowercases and trims an exchange identifier.
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// ValidateExchange checks exchange (case-insensitive) is one of
// SupportedExchanges.
func ValidateExchange(exchange string) error {
	normalized := NormalizeExchange(exchange)
	for _, supported := range SupportedExchanges {
		if normalized == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidExchange, exchange)
}

// IsValidExchange reports whether ValidateExchange accepts exchange.
func IsValidExchange(exchange string) bool {
	return ValidateExchange(exchange) == nil
}

// PairConfigValidation bundles the fields of a configured trading pair that
// need cross-field validation (entry spread vs. exit spread, exchange
// distinctness) in addition to their individual range checks.
type PairConfigValidation struct {
	Symbol      string
	EntrySpread float64
	ExitSpread  float64
	Volume      float64
	NOrders     int
	StopLoss    float64
	ExchangeA   string
	ExchangeB   string
}

// ValidatePairConfig validates the symbol, both spreads, volume and order
// count of a pair configuration and the cross-field invariants: entry spread
// must exceed exit spread, and when either exchange is set both must be
// supported and distinct. StopLoss is not checked.
func ValidatePairConfig(cfg PairConfigValidation) error {
	var errs ValidationErrors
	errs.AddError("symbol", ValidateSymbol(cfg.Symbol))
	errs.AddError("entry_spread", ValidateSpread(cfg.EntrySpread))
	errs.AddError("exit_spread", ValidateSpread(cfg.ExitSpread))
	errs.AddError("volume", ValidateVolume(cfg.Volume))
	errs.AddError("n_orders", ValidateNOrders(cfg.NOrders))

	if cfg.EntrySpread <= cfg.ExitSpread {
		errs.Add("exit_spread", "entry spread must exceed exit spread")
	}

	if cfg.ExchangeA != "" || cfg.ExchangeB != "" {
		errs.AddError("exchange_a", ValidateExchange(cfg.ExchangeA))
		errs.AddError("exchange_b", ValidateExchange(cfg.ExchangeB))
		if NormalizeExchange(cfg.ExchangeA) == NormalizeExchange(cfg.ExchangeB) {
			errs.Add("exchange_b", ErrSameExchange.Error())
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidationError is a single field-scoped validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors accumulates ValidationError entries across a multi-field
// validation pass and itself satisfies the error interface.
type ValidationErrors []ValidationError

// Add appends a field/message pair.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// AddError appends err under field if err is non-nil; a nil err is a no-op.
func (e *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	e.Add(field, err.Error())
}

// HasErrors reports whether any errors have been accumulated.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Error renders all accumulated errors as a single semicolon-joined string.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Field + ": " + err.Message
	}
	return strings.Join(parts, "; ")
}
