package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/wealthos/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateTransactionsTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TIMESTAMP NOT NULL,
		symbol TEXT NOT NULL,
		name TEXT,
		transaction_type TEXT NOT NULL,
		quantity REAL,
		price REAL,
		amount REAL NOT NULL,
		currency TEXT,
		fees REAL,
		source_id TEXT NOT NULL,
		source TEXT NOT NULL,
		account_id TEXT,
		import_job_id TEXT,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, source_id)
	);

	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		name TEXT,
		quantity REAL,
		current_price REAL,
		market_value REAL,
		cost_basis REAL,
		currency TEXT,
		account_id TEXT,
		source TEXT NOT NULL,
		snapshot_at TIMESTAMP NOT NULL,
		UNIQUE(source, account_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS import_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'running',
		records_fetched INTEGER DEFAULT 0,
		records_imported INTEGER DEFAULT 0,
		records_updated INTEGER DEFAULT 0,
		records_skipped INTEGER DEFAULT 0,
		error_message TEXT,
		triggered_by TEXT DEFAULT 'manual',
		metadata_json TEXT
	);

	CREATE TABLE IF NOT EXISTS plugin_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin_id TEXT NOT NULL UNIQUE,
		plugin_name TEXT,
		plugin_version TEXT,
		config_json TEXT,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		sync_frequency TEXT DEFAULT 'daily',
		last_sync TIMESTAMP,
		next_sync TIMESTAMP,
		consecutive_failures INTEGER DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS data_source_metadata (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		data_type TEXT NOT NULL,
		last_update TIMESTAMP,
		record_count INTEGER DEFAULT 0,
		data_quality_score REAL DEFAULT 0,
		completeness_score REAL DEFAULT 0,
		freshness_hours REAL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_type, source_id, asset_symbol, data_type)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(source, source_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_import_jobs_started ON import_jobs(started_at);
	CREATE INDEX IF NOT EXISTS idx_dsm_asset ON data_source_metadata(asset_symbol, data_type);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

func migrateTransactionsTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='transactions'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("'transactions' table does not exist, no migration needed as table will be created.")
			} else {
				stdlog.Println("'transactions' table does not exist, no migration needed as table will be created.")
			}
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'transactions' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'transactions' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(transactions)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'transactions': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'transactions'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'transactions': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'transactions': %v", err)
		}
		return
	}

	if _, ok := columnExists["import_job_id"]; !ok {
		_, err := DB.Exec("ALTER TABLE transactions ADD COLUMN import_job_id TEXT")
		if err != nil {
			logger.L.Error("Error adding 'import_job_id' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'import_job_id' column to 'transactions' table")
		}
	}
	if _, ok := columnExists["fees"]; !ok {
		_, err := DB.Exec("ALTER TABLE transactions ADD COLUMN fees REAL")
		if err != nil {
			logger.L.Error("Error adding 'fees' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'fees' column to 'transactions' table")
		}
	}
	if _, ok := columnExists["account_id"]; !ok {
		_, err := DB.Exec("ALTER TABLE transactions ADD COLUMN account_id TEXT")
		if err != nil {
			logger.L.Error("Error adding 'account_id' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'account_id' column to 'transactions' table")
		}
	}
}
