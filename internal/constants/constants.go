package constants

import "time"

// Request defaults
const (
	DefaultScheme = "https"
	DefaultMethod = "GET"
)

// Expression defaults
const (
	DefaultSuccessCondition    = ".status_code_class == 200"
	DefaultTransformer         = "[.response_body]"
	DefaultNextBodyTransformer = ".request_body"
	DefaultPagerWhile          = "false"
	DefaultRetryCondition      = "true"
)

// Row extraction defaults
const (
	DefaultTransformedJSONColumnName   = "payload"
	DefaultExtractTransformedJSONArray = true
	DefaultShowRequestBodyOnError      = true
	DefaultPagerIntervalMillis         = 100
	DefaultRetryMaxRetries             = 7
	DefaultRetryInitialIntervalMillis  = 1000
	DefaultRetryMaxIntervalMillis      = 60000
	DefaultNextParamsMode              = "expression"
)

// Downstream type-coercion defaults
const (
	DefaultTimezone        = "UTC"
	DefaultTimestampFormat = "%Y-%m-%d %H:%M:%S.%N %z"
	DefaultDate            = "1970-01-01"
)

// Output defaults
const (
	DefaultOutputType  = "stdout"
	DefaultRowsTable   = "ingested_rows"
	DefaultRunsTable   = "ingest_runs"
	DefaultSQLiteFile  = "apingest.db"
	DefaultHTTPTimeout = 60 * time.Second
)

// SQLite connection settings
const (
	SQLiteBusyTimeoutMS  = 5000
	SQLiteMaxConnections = 1 // SQLite allows only one writer
)
