package common

// Environment variable keys
const (
	EnvConfigFile   = "CONFIG_FILE"
	EnvModelPath    = "MODEL_PATH"
	EnvClassLabels  = "CLASS_LABELS"
	EnvPort         = "PORT"
	EnvDataPath     = "DATA_PATH"
	EnvCacheSize    = "CACHE_SIZE"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "LOG_FORMAT"
	EnvLogFile      = "LOG_FILE"
	EnvReadTimeout  = "READ_TIMEOUT"
	EnvWriteTimeout = "WRITE_TIMEOUT"
	EnvHistorySize  = "HISTORY_SIZE"
	EnvServerURL    = "SCREENER_URL"

	// Profile overrides
	EnvTitle     = "PROFILE_TITLE"
	EnvSubtitle  = "PROFILE_SUBTITLE"
	EnvIcon      = "PROFILE_ICON"
	EnvLanguage  = "PROFILE_LANGUAGE"
	EnvLayout    = "PROFILE_LAYOUT"
	EnvShowChart = "PROFILE_SHOW_CHART"
)

// Configuration defaults
const (
	DefaultModelPath    = "models/model.json"
	DefaultClassLabels  = "0=normal,1=RB"
	DefaultPort         = 8501
	DefaultCacheSize    = 256
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultHistorySize  = 50
	DefaultServerURL    = "http://localhost:8501"
	DefaultTitle        = "RB Screening Model"
	DefaultSubtitle     = "AI-assisted screening based on routine blood indicators"
	DefaultIcon         = "🩺"
	DefaultLanguage     = LanguageEnglish
	DefaultLayout       = LayoutColumns
	DefaultReadTimeout  = "10s"
	DefaultWriteTimeout = "10s"
)

// Profile enumerations
const (
	LanguageEnglish = "en"
	LanguageChinese = "zh"
	LanguageAuto    = "auto"

	LayoutColumns = "columns"
	LayoutSidebar = "sidebar"
)

// Validation constants
const (
	MinPort         = 1024
	MaxPort         = 65535
	MaxCacheSize    = 100000
	MaxHistorySize  = 1000
	HistoryDBName   = "screenings.db"
	ScreeningBucket = "screenings"
)
