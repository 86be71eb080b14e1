package main

import (
	"chat-core/auth"
	"chat-core/domain"
	"chat-core/infrastructure/grpc/client"
	"chat-core/infrastructure/storage"
	"chat-core/internal"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Config is read from CHATTOOLS_* variables; flags override it.
type Config struct {
	DB          string        `envconfig:"DB" default:"./data/badger"`
	JWTSecret   string        `envconfig:"JWT_SECRET"`
	JWTIssuer   string        `envconfig:"JWT_ISSUER" default:"chat-core"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	GatewayAddr string        `envconfig:"GATEWAY_ADDR" default:"localhost:50051"`
}

const usage = `usage: tools <command> [flags]

commands:
  seed     -conversation c1 -participants alice,bob   create or replace a conversation (gateway stopped)
  inspect  -prefix msg:c1: -limit 50                  dump store entries (gateway stopped)
  token    -identity alice                            mint an access token
  hash     -secret s3cr3t                             hash a service account secret
  history  -identity alice -conversation c1 -before 10 -limit 20
`

func main() {
	var cfg Config
	if err := envconfig.Process("CHATTOOLS", &cfg); err != nil {
		log.Fatal("Invalid CHATTOOLS_* configuration: ", err)
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "seed":
		err = seed(cfg, os.Args[2:])
	case "inspect":
		err = inspect(cfg, os.Args[2:])
	case "token":
		err = token(cfg, os.Args[2:])
	case "hash":
		err = hash(os.Args[2:])
	case "history":
		err = history(cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func openStore(path string) (*storage.MessageRepository, func(), error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, nil, fmt.Errorf("open badger %s: %w", path, err)
	}
	logger := logs.GetLoggerFromLevel(slog.LevelWarn)
	return storage.NewMessageRepository(db, logger), func() { _ = db.Close() }, nil
}

// seed writes reference data directly. Running gateways learn about it only after a restart
// or a PUT on the admin endpoint, which also notifies every instance.
func seed(cfg Config, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	db := fs.String("db", cfg.DB, "Path to badger DB")
	conversation := fs.String("conversation", "", "Conversation id")
	participants := fs.String("participants", "", "Comma separated identities")
	_ = fs.Parse(args)

	identities := lo.Compact(lo.Map(strings.Split(*participants, ","), func(s string, _ int) domain.Identity {
		return domain.Identity(strings.TrimSpace(s))
	}))
	if len(identities) == 0 {
		return fmt.Errorf("seed needs -participants")
	}
	store, closeStore, err := openStore(*db)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.SaveConversation(context.Background(), domain.NewConversation(domain.ConversationID(*conversation), identities...)); err != nil {
		return err
	}
	fmt.Printf("Saved %s with %d participants\n", *conversation, len(identities))
	return nil
}

func inspect(cfg Config, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	db := fs.String("db", cfg.DB, "Path to badger DB")
	prefix := fs.String("prefix", "conv:", "Prefix to scan")
	limit := fs.Int("limit", 100, "Maximum number of rows")
	_ = fs.Parse(args)

	store, closeStore, err := openStore(*db)
	if err != nil {
		return err
	}
	defer closeStore()
	entries, err := store.Inspect(*prefix, *limit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Namespace", "Entity ID", "Size", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, entry := range entries {
		row := internal.DefaultMapper(entry)
		table.Append([]string{row.Key, row.Type, row.Namespace, row.EntityID, strconv.FormatInt(row.Size, 10), row.Detail})
	}
	table.Render()
	fmt.Printf("\n%d entries under %q\n", len(entries), *prefix)
	return nil
}

func token(cfg Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	identity := fs.String("identity", "", "Identity to embed")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "Token lifetime")
	_ = fs.Parse(args)
	if cfg.JWTSecret == "" {
		return fmt.Errorf("CHATTOOLS_JWT_SECRET is required")
	}
	signed, err := auth.GenerateToken(*identity, *ttl, []byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func hash(args []string) error {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	secret := fs.String("secret", "", "Service account secret")
	_ = fs.Parse(args)
	if *secret == "" {
		return fmt.Errorf("hash needs -secret")
	}
	encoded, err := auth.HashSecret(*secret)
	if err != nil {
		return err
	}
	fmt.Println(encoded)
	return nil
}

func history(cfg Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	addr := fs.String("addr", cfg.GatewayAddr, "Gateway address")
	identity := fs.String("identity", "", "Identity to read as")
	conversation := fs.String("conversation", "", "Conversation id")
	before := fs.Uint64("before", 0, "Only messages older than this id (0 = latest)")
	limit := fs.Int("limit", 20, "Page size")
	_ = fs.Parse(args)
	if cfg.JWTSecret == "" {
		return fmt.Errorf("CHATTOOLS_JWT_SECRET is required")
	}
	signed, err := auth.GenerateToken(*identity, time.Minute, []byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return err
	}
	c, err := client.New(*addr, signed)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var cursor *uint64
	if *before > 0 {
		cursor = before
	}
	page, err := c.History(ctx, *conversation, cursor, *limit)
	if err != nil {
		return err
	}
	for _, m := range page.Messages {
		fmt.Printf("#%d %s %s: %s\n", m.ID, m.ReceivedAt.Format(time.RFC3339), m.Sender, m.Payload)
	}
	if page.NextBefore != nil {
		fmt.Printf("\nnext page: -before %d\n", *page.NextBefore)
	}
	return nil
}
