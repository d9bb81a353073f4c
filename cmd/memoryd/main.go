// Command memoryd is a thin CLI wrapper over pkg/engine. It holds no
// state of its own: every subcommand opens an Engine, performs one
// operation, and closes it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kittclouds/memoryd/internal/config"
	"github.com/kittclouds/memoryd/internal/foreshadow"
	"github.com/kittclouds/memoryd/internal/ids"
	"github.com/kittclouds/memoryd/internal/index/metadata"
	"github.com/kittclouds/memoryd/internal/orchestrate"
	"github.com/kittclouds/memoryd/internal/record"
	"github.com/kittclouds/memoryd/internal/retrieval"
	"github.com/kittclouds/memoryd/internal/scope"
	"github.com/kittclouds/memoryd/pkg/engine"
)

var (
	configPath string
	userID     string
	sessionID  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "memoryd is a long-term memory engine for conversational AI",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".env", "path to the environment config file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "user id for the operation's scope")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "default", "session id for the operation's scope")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(foreshadowCmd)

	addCmd.Flags().String("source", "", "origin tag for the added content")
	addCmd.Flags().String("category", "", "category tag for the added content")

	searchCmd.Flags().Int("top-k", 10, "number of results to return")
	searchCmd.Flags().Bool("rerank", false, "run the optional rerank pass")
	searchCmd.Flags().String("source", "", "restrict results to this source")
	searchCmd.Flags().String("category", "", "restrict results to this category")
	searchCmd.Flags().StringSlice("tag", nil, "restrict results to records carrying every given tag")

	listCmd.Flags().Int("limit", 20, "maximum records to list")

	entityCmd.AddCommand(entityListCmd)
	entityCmd.AddCommand(entityGetCmd)

	foreshadowCmd.AddCommand(foreshadowListCmd)
	foreshadowCmd.AddCommand(foreshadowPlantCmd)
}

func openEngine() (*engine.Engine, error) {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(configPath, log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return engine.New(cfg)
}

var addCmd = &cobra.Command{
	Use:   "add CONTENT",
	Short: "Ingest one fragment of content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		category, _ := cmd.Flags().GetString("category")

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.Add(context.Background(), orchestrate.AddInput{
			Content:     args[0],
			Scope:       scope.New(userID, "", sessionID),
			Source:      source,
			Category:    category,
			ContentType: record.ContentConversation,
		})
		if err != nil {
			return err
		}
		if !result.Accepted {
			fmt.Printf("skipped as duplicate of %s\n", result.DuplicateOf)
			return nil
		}
		fmt.Printf("added %s\n", result.ID)
		for _, w := range result.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search memory with the multi-path retrieval funnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		useRerank, _ := cmd.Flags().GetBool("rerank")

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		source, _ := cmd.Flags().GetString("source")
		category, _ := cmd.Flags().GetString("category")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		results, err := eng.Search(context.Background(), retrieval.Query{
			Text: args[0], Scope: scope.New(userID, "", sessionID),
			TopK: topK, UseRerank: useRerank,
			Filter: metadata.Filter{Source: source, Category: category, Tags: tags},
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. %s (score %.4f, via %v)\n", i+1, r.ID, r.Score, r.Sources)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine-wide counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		s := eng.Stats()
		fmt.Printf("records: %d\n", s.TotalRecords)
		fmt.Printf("entities: %d\n", s.TotalEntities)
		fmt.Printf("mode: %s\n", eng.Mode().Mode)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default environment config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := os.WriteFile(configPath, []byte(config.Template()), 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat MESSAGE",
	Short: "Send one message through the engine's memory-augmented chat loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		reply, err := eng.Chat(context.Background(), scope.New(userID, "", sessionID), args[0])
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently added memories, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		records, err := eng.ListMemories(scope.New(userID, "", sessionID), limit)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s\t%s\n", r.ID, r.Content)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		rec, err := eng.GetMemory(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id: %s\nscope: %s\nsource: %s\ncategory: %s\ncontent: %s\n", rec.ID, rec.Scope, rec.Source, rec.Category, rec.Content)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Unlink a memory from every index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.DeleteMemory(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var foreshadowCmd = &cobra.Command{
	Use:   "foreshadow",
	Short: "Manage narrative foreshadowing hooks",
}

var foreshadowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hooks still awaiting payoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if !eng.Mode().ForeshadowingEnabled {
			fmt.Println("foreshadowing is disabled in the current mode")
			return nil
		}
		for _, h := range eng.OpenHooks() {
			fmt.Printf("%s\t%s\n", h.ID, h.Description)
		}
		return nil
	},
}

var foreshadowPlantCmd = &cobra.Command{
	Use:   "plant DESCRIPTION",
	Short: "Plant a new foreshadowing hook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if !eng.Mode().ForeshadowingEnabled {
			fmt.Println("foreshadowing is disabled in the current mode")
			return nil
		}
		h := foreshadow.Hook{ID: ids.NewWithPrefix("hook"), Description: args[0], PlantedAt: time.Now().UnixNano()}
		eng.PlantHook(h)
		fmt.Printf("planted %s\n", h.ID)
		return nil
	},
}

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Inspect the entity index",
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		for _, e := range eng.ListEntities("") {
			fmt.Printf("%s\t%s\t%s (%d mentions)\n", e.ID, e.Kind, e.Label, e.TotalMentions)
		}
		return nil
	},
}

var entityGetCmd = &cobra.Command{
	Use:   "get LABEL",
	Short: "Resolve an entity by label or alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		e, ok := eng.FindEntity(args[0])
		if !ok {
			return fmt.Errorf("no entity found for %q", args[0])
		}
		fmt.Printf("id: %s\nkind: %s\nlabel: %s\naliases: %v\nmentions: %d\n", e.ID, e.Kind, e.Label, e.Aliases, e.TotalMentions)
		return nil
	},
}
