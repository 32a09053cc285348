package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/basisdesk/BasisDesk-server/cmd/api"
	"github.com/basisdesk/BasisDesk-server/cmd/models"
	"github.com/basisdesk/BasisDesk-server/db"
	"github.com/basisdesk/BasisDesk-server/service/order"
	"gorm.io/gorm"
)

func main() {
    // Check for command-line arguments
    if len(os.Args) > 1 {
        switch os.Args[1] {
        case "migrate":
            runMigrations()
            return
        case "clear-db":
            runDatabaseClear()
            return
        default:
            log.Fatalf("Unknown command: %s", os.Args[1])
        }
    }

    // Start the server
    startServer()
}

func runMigrations() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database for migrations")

	// Perform migrations
	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Println("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {

	migrations := map[interface{}]string{
		&models.User{}:                "User",
		&models.Consultant{}:          "Consultant",
		&models.Rating{}:              "Rating",
		&models.AvailabilitySlot{}:    "AvailabilitySlot",
		&models.Order{}:               "Order",
		&models.OrderSlot{}:           "OrderSlot",
		&models.StatusMaster{}:        "StatusMaster",
		&models.StatusChangeLog{}:     "StatusChangeLog",
		&models.Payment{}:             "Payment",
		&models.Device{}:              "Device",
		&models.NotificationHistory{}: "NotificationHistory",
	}

	log.Println("Starting database migrations...")
	for model, name := range migrations {
		log.Printf("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
		log.Printf("%s migration successful", name)
	}

	log.Println("Seeding status master...")
	if err := order.SeedStatuses(DB); err != nil {
		return fmt.Errorf("error seeding status master: %w", err)
	}

	log.Println("All migrations completed successfully")
	return nil
}


func startServer() {
	// Initialize database connection
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database")

	// Graceful shutdown setup
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Start the API server
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	server := api.NewApiServer(":"+port, DB)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()
	log.Printf("Server running on port %s", port)

	<-quit
	log.Println("Shutting down server...")
	server.Shutdown()
}


func clearDatabase(DB *gorm.DB, tables []interface{}) error {
    if len(tables) == 0 {
        // Default: Drop all tables
        tables = []interface{}{
            &models.StatusChangeLog{},
            &models.Payment{},
            &models.OrderSlot{},
            &models.Order{},
            &models.AvailabilitySlot{},
            &models.Rating{},
            &models.Consultant{},
            &models.User{},
            &models.StatusMaster{},
            &models.Device{},
            &models.NotificationHistory{},
        }
    }

    log.Println("Dropping tables...")

    for _, table := range tables {
        if err := DB.Migrator().DropTable(table); err != nil {
            log.Printf("Warning dropping table %T: %v", table, err)
        } else {
            log.Printf("Table %T dropped", table)
        }
    }

    return nil
}

func runDatabaseClear() {
    DB, err := db.NewPSQLStorage()
    if err != nil {
        log.Fatalf("Database initialization error: %v", err)
    }
    defer func() {
        sqlDB, _ := DB.DB()
        sqlDB.Close()
        log.Println("Database connection closed")
    }()

    log.Println("Preparing to clear database...")

    // Optional: Add a confirmation prompt
    var confirmation string
    fmt.Print("Are you sure you want to clear the database? (yes/no): ")
    fmt.Scanln(&confirmation)

    if confirmation != "yes" {
        log.Println("Database clearing cancelled.")
        return
    }

    // Ask for specific tables to clear
    var tableNames string
    fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
    fmt.Scanln(&tableNames)

    var tables []interface{}
    if tableNames != "" {
        tableList := splitTableNames(tableNames)
        for _, table := range tableList {
            switch table {
            case "User":
                tables = append(tables, &models.User{})
            case "Consultant":
                tables = append(tables, &models.Consultant{})
            case "Rating":
                tables = append(tables, &models.Rating{})
            case "AvailabilitySlot":
                tables = append(tables, &models.AvailabilitySlot{})
            case "Order":
                tables = append(tables, &models.Order{})
            case "OrderSlot":
                tables = append(tables, &models.OrderSlot{})
            case "StatusMaster":
                tables = append(tables, &models.StatusMaster{})
            case "StatusChangeLog":
                tables = append(tables, &models.StatusChangeLog{})
            case "Payment":
                tables = append(tables, &models.Payment{})
            case "Device":
                tables = append(tables, &models.Device{})
            case "NotificationHistory":
                tables = append(tables, &models.NotificationHistory{})
            default:
                log.Printf("Unknown table: %s", table)
            }
        }
    }

    // Clear the specified tables (or all tables if none specified)
    if err := clearDatabase(DB, tables); err != nil {
        log.Fatalf("Error clearing database: %v", err)
    }

    log.Println("Database cleared successfully")
}

func splitTableNames(tableNames string) []string {
    return strings.Split(tableNames, ",")
}
