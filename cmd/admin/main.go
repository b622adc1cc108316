package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"cardforge/internal/config"
	"cardforge/internal/database"
	"cardforge/internal/template"
)

// 演示模板：名片正面，姓名自动缩字、底部二维码指向个人主页。
const demoTemplateContent = `{
  "width": 600,
  "height": 340,
  "format": "png",
  "dpi": 96,
  "brand_colors": {"primary": "#1f6feb", "ink": "#24292f"},
  "elements": [
    {
      "id": "name",
      "kind": "text",
      "x": 40, "y": 60, "z_index": 2,
      "text": {
        "field": "person.name",
        "font_size": 36,
        "bold": true,
        "color": "ink",
        "max_width": 360,
        "max_lines": 1,
        "auto_fit": {"min_size": 18, "max_size": 36, "single_line": true}
      }
    },
    {
      "id": "title",
      "kind": "text",
      "x": 40, "y": 110, "z_index": 2,
      "text": {
        "field": "person.title",
        "font_size": 18,
        "color": "primary",
        "max_width": 360,
        "max_lines": 2
      }
    },
    {
      "id": "contact-qr",
      "kind": "qr",
      "x": 440, "y": 120, "z_index": 3,
      "qr": {
        "field": "person.homepage",
        "payload": "url",
        "size": 140,
        "margin": 8,
        "error_correction": "M"
      }
    }
  ]
}`

func main() {
	var (
		seedDemo = flag.Bool("seed-demo", false, "创建演示名片模板（已存在则跳过）")
		dbHost   = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort   = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName   = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser   = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass   = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode  = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if err := db.AutoMigrate(&database.Template{}, &database.RenderJob{}); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Println("database migrated")

	if !*seedDemo {
		return
	}

	if _, err := template.Parse([]byte(demoTemplateContent)); err != nil {
		log.Fatalf("demo template invalid: %v", err)
	}

	const demoName = "demo-business-card"
	var existing database.Template
	switch err := db.Where("name = ?", demoName).First(&existing).Error; {
	case err == nil:
		log.Printf("demo template already exists (id=%d, version=%d)", existing.ID, existing.Version)
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query demo template: %v", err)
	}

	tpl := database.Template{
		Name:    demoName,
		Content: []byte(demoTemplateContent),
		Version: 1,
	}
	if err := db.Create(&tpl).Error; err != nil {
		log.Fatalf("create demo template: %v", err)
	}
	fmt.Printf("seeded demo template id=%d\n", tpl.ID)
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
