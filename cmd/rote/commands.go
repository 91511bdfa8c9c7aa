package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rotewell/rote/internal/anki"
	"github.com/rotewell/rote/internal/config"
	"github.com/rotewell/rote/internal/deck"
	"github.com/rotewell/rote/internal/remote"
	"github.com/rotewell/rote/internal/syncer"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import flashcards from an Anki .apkg or a JSON file",
	Long: `Import flashcards into the local deck.

Anki packages are parsed locally: notes are converted to flashcards
(one card per cloze deletion) and scheduling starts fresh.

Examples:
  rote import ./step1-cardio.apkg
  rote import ./cards.json
  rote import --dry-run ./big-deck.apkg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		switch strings.ToLower(filepath.Ext(path)) {
		case ".apkg":
			return importAPKG(cmd, path, dryRun)
		case ".json":
			return importJSONFile(cmd, path, dryRun)
		default:
			return fmt.Errorf("unsupported file type %q: expected .apkg or .json", filepath.Ext(path))
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "parse and show stats without importing")
}

func importAPKG(cmd *cobra.Command, path string, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	archive, cards, err := parseAPKG(path, cfg)
	if err != nil {
		return err
	}

	stats := anki.ComputeStats(archive, cards)
	printStatus("Deck", "%s", stats.DeckName)
	printStatus("Notes", "%d (%d skipped)", stats.TotalNotes, stats.SkippedNotes)
	printStatus("Flashcards", "%d (%d cloze, %d regular)", stats.TotalCards, stats.ClozeCount, stats.RegularCount)
	printStatus("Media", "%d files", stats.TotalMedia)
	printStatus("Tags", "%d unique", stats.UniqueTags)

	if dryRun {
		printStep("Dry run: nothing imported")
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/cards/import", deckPayload(cards))
	if err != nil {
		return err
	}

	var result struct {
		Added    int      `json:"added"`
		Skipped  int      `json:"skipped"`
		Warnings []string `json:"warnings"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	for _, warn := range result.Warnings {
		printWarning("%s", warn)
	}
	printSuccess("Imported %d cards from %s", result.Added, filepath.Base(path))
	return nil
}

func importJSONFile(cmd *cobra.Command, path string, dryRun bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	result, err := deck.ParseJSON(data, "", time.Now())
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	printStatus("Flashcards", "%d", len(result.Cards))
	for _, warn := range result.Warnings {
		printWarning("%s", warn)
	}

	if dryRun {
		printStep("Dry run: nothing imported")
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/cards/import", map[string]any{"cards": result.Cards})
	if err != nil {
		return err
	}

	var imported struct {
		Added int `json:"added"`
	}
	if err := decodeJSON(resp, &imported); err != nil {
		return err
	}

	printSuccess("Imported %d cards from %s", imported.Added, filepath.Base(path))
	return nil
}

func parseAPKG(path string, cfg config.Config) (*anki.Archive, []anki.Flashcard, error) {
	lastMsg := ""
	progress := func(msg string, pct float64) {
		if msg != lastMsg {
			printStep("%s", msg)
			lastMsg = msg
		}
	}

	limits := anki.DefaultLimits()
	if cfg.Import.MaxArchiveBytes > 0 {
		limits.MaxBytes = cfg.Import.MaxArchiveBytes
	}
	if cfg.Import.WarnArchiveBytes > 0 {
		limits.WarnBytes = cfg.Import.WarnArchiveBytes
	}

	archive, err := anki.ParseArchiveWithLimits(path, limits, progress)
	if err != nil {
		if ie, ok := anki.AsImportError(err); ok {
			printError("%s", ie.Message)
		}
		return nil, nil, err
	}

	cards := anki.Convert(archive, progress)
	return archive, cards, nil
}

// deckPayload maps converted Anki flashcards onto the import endpoint's
// card shape.
func deckPayload(cards []anki.Flashcard) map[string]any {
	out := make([]map[string]any, 0, len(cards))
	for _, c := range cards {
		out = append(out, map[string]any{
			"content": map[string]any{
				"front":       c.Front,
				"back":        c.Back,
				"explanation": c.Extra,
				"images":      c.ImageFilenames,
			},
			"metadata": map[string]any{
				"tags":   c.Tags,
				"system": syncer.InferSystem(c),
				"topic":  c.DeckName,
			},
		})
	}
	return map[string]any{"cards": out}
}

// --- push ---

var pushCmd = &cobra.Command{
	Use:   "push <file.apkg>",
	Short: "Parse an Anki package and sync its cards to the remote backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Remote.URL == "" || cfg.Remote.AnonKey == "" {
			return fmt.Errorf("remote not configured: set remote.url and remote.anon_key (rote config set)")
		}
		if cfg.Remote.AccessToken == "" {
			return fmt.Errorf("not signed in: set ROTE_REMOTE_ACCESS_TOKEN to your access token")
		}

		archive, cards, err := parseAPKG(args[0], cfg)
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			printWarning("no cards to push")
			return nil
		}

		client := remote.NewClient(cfg.Remote.URL, cfg.Remote.AnonKey, cfg.Remote.AccessToken)
		writer := syncer.NewWriter(client, syncer.Config{
			Bucket: cfg.Remote.Bucket,
			Table:  cfg.Remote.Table,
		})

		lastMsg := ""
		progress := func(msg string, pct float64) {
			if msg != lastMsg {
				printStep("%s", msg)
				lastMsg = msg
			}
		}

		res, err := writer.Push(cmd.Context(), "", cards, archive.Media, progress)
		if err != nil {
			return err
		}

		if res.ImagesFailed > 0 {
			printWarning("%d images failed to upload", res.ImagesFailed)
		}
		if res.Failed > 0 {
			printWarning("%d cards failed to sync", res.Failed)
		}
		printSuccess("Synced %d cards (%d images)", res.Inserted, res.ImagesUploaded)
		return nil
	},
}

// --- due ---

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "List cards due for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		system, _ := cmd.Flags().GetString("system")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/cards?due=true&limit=%d", limit)
		if system != "" {
			path += "&system=" + system
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var cards []deck.Flashcard
		if err := decodeJSON(resp, &cards); err != nil {
			return err
		}

		if len(cards) == 0 {
			fmt.Println("Nothing due. Go outside.")
			return nil
		}

		for _, c := range cards {
			front := c.Content.Front
			if len(front) > 70 {
				front = front[:70] + "..."
			}
			fmt.Printf("%s  %s\n", colorize(colorBold, c.ID[:8]), front)
			fmt.Printf("          %s / %s (%s, %d reps)\n",
				c.Metadata.System, c.Metadata.Topic, c.SR.Phase, c.SR.Reps)
		}
		return nil
	},
}

func init() {
	dueCmd.Flags().Int("limit", 20, "maximum number of cards")
	dueCmd.Flags().String("system", "", "restrict to one organ system")
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review <card-id> <outcome>",
	Short: "Record a review outcome (again, hard, good, easy)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reviews", map[string]string{
			"cardId":  args[0],
			"outcome": args[1],
		})
		if err != nil {
			return err
		}

		var card deck.Flashcard
		if err := decodeJSON(resp, &card); err != nil {
			return err
		}

		printSuccess("Next review %s (interval %d days, ease %.2f)",
			card.SR.NextReview.Format("2006-01-02"), card.SR.Interval, card.SR.Ease)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show deck statistics and topic performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}
		var st struct {
			TotalCards int `json:"totalCards"`
			DueCards   int `json:"dueCards"`
			Topics     int `json:"topics"`
			WeakTopics int `json:"weakTopics"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printStatus("Cards", "%d (%d due)", st.TotalCards, st.DueCards)
		printStatus("Topics", "%d (%d weak)", st.Topics, st.WeakTopics)

		resp, err = client.get(cmd.Context(), "/performance")
		if err != nil {
			return err
		}
		var perf []deck.TopicPerformance
		if err := decodeJSON(resp, &perf); err != nil {
			return err
		}

		if len(perf) > 0 {
			fmt.Println()
			for _, p := range perf {
				label := p.Strength
				switch p.Strength {
				case "weak":
					label = colorize(colorRed, label)
				case "moderate":
					label = colorize(colorYellow, label)
				case "strong":
					label = colorize(colorGreen, label)
				}
				fmt.Printf("  %-40s %3.0f%%  %s\n",
					p.System+" / "+p.Topic, p.Retention*100, label)
			}
		}
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent study sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions")
		if err != nil {
			return err
		}
		var sums []deck.SessionSummary
		if err := decodeJSON(resp, &sums); err != nil {
			return err
		}

		if len(sums) == 0 {
			fmt.Println("No sessions recorded yet.")
			return nil
		}

		for _, s := range sums {
			pct := 0.0
			if s.Total > 0 {
				pct = float64(s.Correct) / float64(s.Total) * 100
			}
			fmt.Printf("%s  %-8s %3d/%-3d (%3.0f%%)",
				s.FinishedAt.Format("2006-01-02 15:04"), s.Mode, s.Correct, s.Total, pct)
			if len(s.Topics) > 0 {
				fmt.Printf("  %s", strings.Join(s.Topics, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, ki := range config.ShowAll(cfg) {
			printStatus(ki.Key, "%s", ki.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
