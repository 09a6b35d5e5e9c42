package config

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Load initializes configuration from environment variables and .env file.
func Load() error {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		logrus.WithError(err).Warn("Failed to read .env file, using environment variables")
	}

	logrus.Info("Configuration loaded successfully")
	return nil
}

func setDefaults() {
	// Storage
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_NAME", "itemuploader")
	viper.SetDefault("SQLITE_PATH", "itemuploader.db")

	// Services
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("HTTP_BODY_LIMIT", "64M")
	viper.SetDefault("EVENTS_PORT", "8085")
	viper.SetDefault("NOTIFICATION_GRPC_PORT", "8083")
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_EVENTS_TOPIC", "PIPELINE_EVENTS")
	viper.SetDefault("RETENTION_DAYS", 7)
	viper.SetDefault("RETENTION_CRON", "0 3 * * *")
	viper.SetDefault("SMTP_HOST", "sandbox.smtp.mailtrap.io")
	viper.SetDefault("SMTP_PORT", "2525")
	viper.SetDefault("EMAIL_SENDER", "itemuploader@example.com")

	// Spreadsheets
	viper.SetDefault("SHEETS_RETRIES", 3)
	viper.SetDefault("SHEETS_RETRY_DELAY", "2s")
	viper.SetDefault("UPLOAD_CHUNK_ROWS", 0)

	// Pipeline
	viper.SetDefault("TEM_OUTPUT_SHEET_NAME", "TEM_OUTPUT")
	viper.SetDefault("BASIC_HEADER_ROW", 2)
	viper.SetDefault("BASIC_FIRST_DATA_ROW", 3)
	viper.SetDefault("MEDIA_HEADER_ROW", 2)
	viper.SetDefault("MEDIA_FIRST_DATA_ROW", 6)
	viper.SetDefault("SALES_HEADER_ROW", 2)
	viper.SetDefault("SALES_FIRST_DATA_ROW", 3)
	viper.SetDefault("COLOR_HEX_MANDATORY", "#FFF9C4")
	viper.SetDefault("OVERWRITE_NONEMPTY", false)
	viper.SetDefault("CAT_PROPS_SHEET", "cat props")
	viper.SetDefault("FDA_CATEGORIES_SHEET_NAME", "TH Cos")
	viper.SetDefault("FDA_HEADER_NAME", "FDA Registration No.")
	viper.SetDefault("FDA_CODE", "10-1-9999999")
	viper.SetDefault("STEP4_STOCK_VALUE", 1000)
	viper.SetDefault("STEP4_DTOS_VALUE", 1)
	viper.SetDefault("IMAGE_URL_EXPR", `host + sku + "_C_" + shop + ".jpg"`)
	viper.SetDefault("EXPORT_HEADER_ROW", false)
}

// Pipeline holds the tunables read by the transformation steps.
type Pipeline struct {
	TemSheet          string
	BasicHeaderRow    int
	BasicFirstDataRow int
	MediaHeaderRow    int
	MediaFirstDataRow int
	SalesHeaderRow    int
	SalesFirstDataRow int
	MandatoryColor    string
	OverwriteNonEmpty bool
	CatPropsSheet     string
	FDASheet          string
	FDAHeader         string
	FDACode           string
	StockValue        int
	DaysToShip        int
	ImageHost         string
	ImageURLExpr      string
	// ExportHeader writes each block's header row on top of its exported
	// sheet. Off by default: exported rows go under the marketplace
	// template's own headers.
	ExportHeader bool
}

// PipelineSettings snapshots the current pipeline configuration.
func PipelineSettings() Pipeline {
	return Pipeline{
		TemSheet:          strings.TrimSpace(viper.GetString("TEM_OUTPUT_SHEET_NAME")),
		BasicHeaderRow:    viper.GetInt("BASIC_HEADER_ROW"),
		BasicFirstDataRow: viper.GetInt("BASIC_FIRST_DATA_ROW"),
		MediaHeaderRow:    viper.GetInt("MEDIA_HEADER_ROW"),
		MediaFirstDataRow: viper.GetInt("MEDIA_FIRST_DATA_ROW"),
		SalesHeaderRow:    viper.GetInt("SALES_HEADER_ROW"),
		SalesFirstDataRow: viper.GetInt("SALES_FIRST_DATA_ROW"),
		MandatoryColor:    viper.GetString("COLOR_HEX_MANDATORY"),
		OverwriteNonEmpty: viper.GetBool("OVERWRITE_NONEMPTY"),
		CatPropsSheet:     viper.GetString("CAT_PROPS_SHEET"),
		FDASheet:          viper.GetString("FDA_CATEGORIES_SHEET_NAME"),
		FDAHeader:         viper.GetString("FDA_HEADER_NAME"),
		FDACode:           viper.GetString("FDA_CODE"),
		StockValue:        viper.GetInt("STEP4_STOCK_VALUE"),
		DaysToShip:        viper.GetInt("STEP4_DTOS_VALUE"),
		ImageHost:         strings.TrimSpace(viper.GetString("IMAGE_HOSTING_URL")),
		ImageURLExpr:      viper.GetString("IMAGE_URL_EXPR"),
		ExportHeader:      viper.GetBool("EXPORT_HEADER_ROW"),
	}
}

// DefaultPipeline returns the built-in defaults without touching viper state.
func DefaultPipeline() Pipeline {
	return Pipeline{
		TemSheet:          "TEM_OUTPUT",
		BasicHeaderRow:    2,
		BasicFirstDataRow: 3,
		MediaHeaderRow:    2,
		MediaFirstDataRow: 6,
		SalesHeaderRow:    2,
		SalesFirstDataRow: 3,
		MandatoryColor:    "#FFF9C4",
		CatPropsSheet:     "cat props",
		FDASheet:          "TH Cos",
		FDAHeader:         "FDA Registration No.",
		FDACode:           "10-1-9999999",
		StockValue:        1000,
		DaysToShip:        1,
		ImageURLExpr:      `host + sku + "_C_" + shop + ".jpg"`,
	}
}
