package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/internal/services"
)

// Updates the template ids provisioning copies from, without going through the API.
//
//	go run ./cmd/scripts/set_template_ids -doc <file id> -deck <file id> -asana <project gid>
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	doc := flag.String("doc", "", "scoping document template file id")
	deck := flag.String("deck", "", "kickoff deck template file id")
	asana := flag.String("asana", "", "task project template gid")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := models.InitDB(&cfg.Database); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	svc := services.NewSystemConfigService(models.GetDB())
	printSettings("Before", svc.GetTemplateSettings(cfg))

	req := &services.UpdateTemplateSettingsRequest{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "doc":
			req.DocTemplateID = doc
		case "deck":
			req.DeckTemplateID = deck
		case "asana":
			req.AsanaTemplateGID = asana
		}
	})
	if req.DocTemplateID == nil && req.DeckTemplateID == nil && req.AsanaTemplateGID == nil {
		fmt.Println("Nothing to update, pass -doc, -deck or -asana")
		return
	}

	if err := svc.UpdateTemplateSettings(req); err != nil {
		log.Fatalf("Failed to update template settings: %v", err)
	}
	printSettings("After", svc.GetTemplateSettings(cfg))
}

func printSettings(label string, s *services.TemplateSettings) {
	fmt.Printf("%s:\n", label)
	fmt.Printf("  %-20s %s\n", "doc_template_id", s.DocTemplateID)
	fmt.Printf("  %-20s %s\n", "deck_template_id", s.DeckTemplateID)
	fmt.Printf("  %-20s %s\n", "asana_template_gid", s.AsanaTemplateGID)
	fmt.Println()
}
