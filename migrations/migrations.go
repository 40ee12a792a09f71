package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

var statements = []struct {
	table string
	query string
}{
	{"batches", `
		CREATE TABLE IF NOT EXISTS batches (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'Open',
			total_orders INT NOT NULL DEFAULT 0,
			total_sales DECIMAL(20,2) NOT NULL DEFAULT 0
		);
	`},
	{"products", `
		CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			sku VARCHAR(64) NOT NULL DEFAULT '',
			quantity INT NOT NULL DEFAULT 0,
			alert_stock INT NOT NULL DEFAULT 0,
			batch_id VARCHAR(64) NULL,
			cost DECIMAL(20,2) NOT NULL DEFAULT 0,
			retail_price DECIMAL(20,2) NOT NULL DEFAULT 0,
			FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE SET NULL
		);
	`},
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) PRIMARY KEY,
			customer_id VARCHAR(64) NOT NULL,
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			contact_number VARCHAR(64) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			address TEXT NOT NULL,
			unit_price DECIMAL(20,2) NOT NULL DEFAULT 0,
			shipping_fee DECIMAL(20,2) NOT NULL DEFAULT 0,
			rush_surcharge DECIMAL(20,2) NOT NULL DEFAULT 0,
			total DECIMAL(20,2) NOT NULL DEFAULT 0,
			rush_ship TINYINT(1) NOT NULL DEFAULT 0,
			payment_method VARCHAR(32) NOT NULL DEFAULT '',
			payment_status VARCHAR(20) NOT NULL,
			shipping_status VARCHAR(20) NOT NULL,
			batch_id VARCHAR(64) NULL,
			courier_name VARCHAR(64) NOT NULL DEFAULT '',
			tracking_number VARCHAR(64) NOT NULL DEFAULT '',
			remarks VARCHAR(255) NOT NULL DEFAULT '',
			created_by JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_orders_created_at (created_at)
		);
	`},
	{"order_items", `
		CREATE TABLE IF NOT EXISTS order_items (
			order_id VARCHAR(36) NOT NULL,
			position INT NOT NULL,
			product_id VARCHAR(64) NOT NULL,
			quantity INT NOT NULL,
			unit_price DECIMAL(20,2) NOT NULL DEFAULT 0,
			batch_id VARCHAR(64) NULL,
			PRIMARY KEY (order_id, position),
			FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
		);
	`},
	{"notifications", "" +
		"CREATE TABLE IF NOT EXISTS notifications (" +
		" seq BIGINT AUTO_INCREMENT PRIMARY KEY," +
		" id VARCHAR(36) NOT NULL UNIQUE," +
		" title VARCHAR(255) NOT NULL," +
		" message TEXT NOT NULL," +
		" type VARCHAR(32) NOT NULL," +
		" product_id VARCHAR(64) NULL," +
		" `read` TINYINT(1) NOT NULL DEFAULT 0," +
		" created_at DATETIME(6) NOT NULL," +
		" updated_at DATETIME(6) NOT NULL," +
		" INDEX idx_notifications_read (`read`)" +
		");"},
	{"sales_logs", `
		CREATE TABLE IF NOT EXISTS sales_logs (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(36) NOT NULL UNIQUE,
			order_id VARCHAR(36) NOT NULL,
			description VARCHAR(64) NOT NULL,
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			total_amount DECIMAL(20,2) NOT NULL DEFAULT 0,
			orders JSON NOT NULL,
			shipments JSON NOT NULL,
			order_items JSON NOT NULL,
			actor JSON NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_sales_logs_order (order_id)
		);
	`},
}

// AutoMigrate creates the ledger tables if they do not exist.
func AutoMigrate(retries int, db *sql.DB) error {
	for _, stmt := range statements {
		_, err := db.Exec(stmt.query)
		if err != nil {
			// Retry creating the table
			for i := 0; i < retries; i++ {
				time.Sleep(1 * time.Second)
				_, err = db.Exec(stmt.query)
				if err == nil {
					break
				}
			}
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.table, err)
		}
	}
	return nil
}
