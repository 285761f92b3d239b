package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del engine. Inmutable tras Load:
// se construye una vez y se pasa por valor a cada componente.
type Config struct {
	Trading TradingConfig `yaml:"trading"`
	Stops   StopsConfig   `yaml:"stops"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Risk    RiskConfig    `yaml:"risk"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// TradingConfig controla cuándo y cuánto entra el engine.
type TradingConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`    // ask mínimo del favorito en la ventana tardía
	MaxPrice        float64 `yaml:"max_price"`         // ask máximo aceptable
	PriceEpsilon    float64 `yaml:"price_epsilon"`     // tolerancia en comparaciones de precio
	TradeSizeUSDC   float64 `yaml:"trade_size_usdc"`   // tamaño base por trade
	MinTradeUSDC    float64 `yaml:"min_trade_usdc"`    // mínimo aceptado por el CLOB
	MaxTradeUSDC    float64 `yaml:"max_trade_usdc"`    // techo absoluto por trade
	MinLiquidity    float64 `yaml:"min_liquidity_usdc"` // liquidez mínima en asks; 0 = sin filtro
	LateWindowSecs  int     `yaml:"late_window_secs"`  // ventana de entrada al final del mercado
	EarlyEntry      bool    `yaml:"early_entry"`
	EarlyFromSecs   int     `yaml:"early_from_secs"`   // t restante donde empieza la entrada temprana
	EarlyUntilSecs  int     `yaml:"early_until_secs"`  // t restante donde termina (empieza la tardía)
	EarlyBidFloor   float64 `yaml:"early_bid_floor"`   // bid mínimo para disparar temprano
	MaxOrderRetries int     `yaml:"max_order_retries"`
}

// StopsConfig controla la gestión de posiciones abiertas.
type StopsConfig struct {
	StopLossPct       float64 `yaml:"stop_loss_pct"`      // caída relativa desde la entrada
	StopLossAbsolute  float64 `yaml:"stop_loss_absolute"` // suelo absoluto del stop
	TrailingStopPct   float64 `yaml:"trailing_stop_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`    // 0 = desactivado
	CheckIntervalSecs int     `yaml:"check_interval_secs"`
}

// OracleConfig controla el guard de acuerdo con el oráculo.
type OracleConfig struct {
	WindowSecs       int     `yaml:"window_secs"`        // ventana rodante de precios
	MinPoints        int     `yaml:"min_points"`         // puntos mínimos para evaluar
	MaxVolPct        float64 `yaml:"max_vol_pct"`        // volatilidad máxima tolerada
	MinAbsZ          float64 `yaml:"min_abs_z"`          // |z| mínimo para considerar señal
	BeatMaxLagSecs   int     `yaml:"beat_max_lag_secs"`  // margen para capturar price_to_beat
	MaxStaleSecs     int     `yaml:"max_stale_secs"`     // edad máxima del último punto del feed
	MaxReversalSlope float64 `yaml:"max_reversal_slope"` // USD/s en contra tolerados; 0 desactiva
}

// RiskConfig controla el circuit breaker diario y el sizing.
type RiskConfig struct {
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"` // pérdida máxima como fracción del balance inicial
	MaxDailyTrades  int     `yaml:"max_daily_trades"`
	BalancePct      float64 `yaml:"balance_pct"` // fracción del balance usada en sizing dinámico
}

// APIConfig contiene los endpoints y credenciales de Polymarket.
// La private key y el RPC vienen SIEMPRE de entorno, nunca del YAML.
type APIConfig struct {
	CLOBBase      string `yaml:"clob_base"`
	GammaBase     string `yaml:"gamma_base"`
	MarketWSBase  string `yaml:"market_ws_base"`
	OracleWSBase  string `yaml:"oracle_ws_base"`
	PolygonRPC    string `yaml:"-"`
	PrivateKeyHex string `yaml:"-"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// LateWindow devuelve la ventana de entrada tardía como time.Duration.
func (c *Config) LateWindow() time.Duration {
	return time.Duration(c.Trading.LateWindowSecs) * time.Second
}

// OracleWindow devuelve la ventana rodante del oráculo como time.Duration.
func (c *Config) OracleWindow() time.Duration {
	return time.Duration(c.Oracle.WindowSecs) * time.Second
}

// StopCheckInterval devuelve el intervalo de chequeo de stops.
func (c *Config) StopCheckInterval() time.Duration {
	return time.Duration(c.Stops.CheckIntervalSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("UPDOWN_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.PolygonRPC = v
	}
	if v := os.Getenv("POLYGON_PRIVATE_KEY"); v != "" {
		cfg.API.PrivateKeyHex = v
	}
	if v := os.Getenv("TRADE_SIZE_USDC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.TradeSizeUSDC = f
		}
	}
	if v := os.Getenv("MAX_TRADE_USDC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.MaxTradeUSDC = f
		}
	}
	if v := os.Getenv("MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.MinConfidence = f
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Trading.MinConfidence <= 0 {
		cfg.Trading.MinConfidence = 0.85
	}
	if cfg.Trading.MaxPrice <= 0 {
		cfg.Trading.MaxPrice = 0.95
	}
	if cfg.Trading.PriceEpsilon <= 0 {
		cfg.Trading.PriceEpsilon = 1e-9
	}
	if cfg.Trading.TradeSizeUSDC <= 0 {
		cfg.Trading.TradeSizeUSDC = 1.0
	}
	if cfg.Trading.MinTradeUSDC <= 0 {
		cfg.Trading.MinTradeUSDC = 1.0
	}
	if cfg.Trading.MaxTradeUSDC <= 0 {
		cfg.Trading.MaxTradeUSDC = 250.0
	}
	if cfg.Trading.LateWindowSecs <= 0 {
		cfg.Trading.LateWindowSecs = 120
	}
	if cfg.Trading.EarlyFromSecs <= 0 {
		cfg.Trading.EarlyFromSecs = 600
	}
	if cfg.Trading.EarlyUntilSecs <= 0 {
		cfg.Trading.EarlyUntilSecs = 60
	}
	if cfg.Trading.EarlyBidFloor <= 0 {
		cfg.Trading.EarlyBidFloor = 0.90
	}
	if cfg.Trading.MaxOrderRetries <= 0 {
		cfg.Trading.MaxOrderRetries = 3
	}
	if cfg.Stops.StopLossPct <= 0 {
		cfg.Stops.StopLossPct = 0.30
	}
	if cfg.Stops.StopLossAbsolute <= 0 {
		cfg.Stops.StopLossAbsolute = 0.80
	}
	if cfg.Stops.TrailingStopPct <= 0 {
		cfg.Stops.TrailingStopPct = 0.15
	}
	if cfg.Stops.CheckIntervalSecs <= 0 {
		cfg.Stops.CheckIntervalSecs = 1
	}
	if cfg.Oracle.WindowSecs <= 0 {
		cfg.Oracle.WindowSecs = 60
	}
	if cfg.Oracle.MinPoints <= 0 {
		cfg.Oracle.MinPoints = 4
	}
	if cfg.Oracle.MaxVolPct <= 0 {
		cfg.Oracle.MaxVolPct = 0.002
	}
	if cfg.Oracle.MinAbsZ <= 0 {
		cfg.Oracle.MinAbsZ = 0.75
	}
	if cfg.Oracle.BeatMaxLagSecs <= 0 {
		cfg.Oracle.BeatMaxLagSecs = 10
	}
	if cfg.Oracle.MaxStaleSecs <= 0 {
		cfg.Oracle.MaxStaleSecs = 20
	}
	if cfg.Risk.MaxDailyLossPct <= 0 {
		cfg.Risk.MaxDailyLossPct = 0.10
	}
	if cfg.Risk.MaxDailyTrades <= 0 {
		cfg.Risk.MaxDailyTrades = 30
	}
	if cfg.Risk.BalancePct <= 0 {
		cfg.Risk.BalancePct = 0.05
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.MarketWSBase == "" {
		cfg.API.MarketWSBase = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.API.OracleWSBase == "" {
		cfg.API.OracleWSBase = "wss://ws-live-data.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "updown.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza combinaciones que dejarían al engine en un estado sin sentido.
func validate(cfg *Config) error {
	if cfg.Trading.MinConfidence >= 1 {
		return fmt.Errorf("trading.min_confidence debe ser < 1, got %v", cfg.Trading.MinConfidence)
	}
	if cfg.Trading.MaxPrice >= 1 {
		return fmt.Errorf("trading.max_price debe ser < 1, got %v", cfg.Trading.MaxPrice)
	}
	if cfg.Trading.MinTradeUSDC > cfg.Trading.MaxTradeUSDC {
		return fmt.Errorf("trading.min_trade_usdc (%v) > max_trade_usdc (%v)",
			cfg.Trading.MinTradeUSDC, cfg.Trading.MaxTradeUSDC)
	}
	if cfg.Trading.EarlyFromSecs <= cfg.Trading.EarlyUntilSecs {
		return fmt.Errorf("trading.early_from_secs (%d) debe ser > early_until_secs (%d)",
			cfg.Trading.EarlyFromSecs, cfg.Trading.EarlyUntilSecs)
	}
	if cfg.Stops.StopLossPct >= 1 {
		return fmt.Errorf("stops.stop_loss_pct debe ser < 1, got %v", cfg.Stops.StopLossPct)
	}
	if cfg.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss_pct debe ser < 1, got %v", cfg.Risk.MaxDailyLossPct)
	}
	return nil
}
