package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/collection"
	"github.com/jabvlabs/roommate/internal/config"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/jabvlabs/roommate/internal/kv"
	"github.com/jabvlabs/roommate/internal/logging"
	"github.com/jabvlabs/roommate/internal/service"
	"github.com/jabvlabs/roommate/internal/session"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `roommate - shared-apartment workspace client

Usage:
  roommate <command> [args]

Commands:
  register <email> <password>   Create an account
  login <email> <password>      Sign in
  logout                        Sign out and clear local state
  status                        Show session state, user and apartment
  create <name>                 Create an apartment and become its owner
  join <code>                   Join an apartment by its room code
  leave                         Leave the current apartment
  switch <apartment-id>         Switch to another apartment you belong to
  apartments                    List apartments you own or joined
  members                       List members of the current apartment
  upload <file>                 Upload a document to the current apartment
  rmdoc <document-id>           Delete a document and its stored object
  request <document-id> <why>   File a modification request for a document
  resolve <request-id> <status> Approve or reject a request (owner only)
  watch <feed>                  Stream a feed until interrupted
                                (chores, expenses, guests, documents,
                                 requests, notifications)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// .env is optional; real deployments set the environment directly.
	for _, p := range []string{".env", "../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, cfg.Logging.MaxAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	log.Logger = logger

	store, err := openStore(cfg.Persistence)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open persistence store")
	}
	defer store.Close()

	client, err := backend.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create backend client")
	}

	app := &app{
		cfg:     cfg,
		logger:  logger,
		sess:    nil,
		dir:     backend.NewDirectory(client, logger),
		tables:  backend.NewTables(client),
		storage: backend.NewStorage(client, cfg.Storage.Bucket),
		bus:     collection.NewBus(),
	}

	auth := backend.NewAuth(client, store, logger)
	defer auth.Close()
	app.sess = session.New(auth, app.dir, store, logger)
	defer app.sess.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.sess.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session")
	}

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	sess    *session.Store
	dir     *backend.Directory
	tables  *backend.Tables
	storage *backend.Storage
	bus     *collection.Bus
}

func openStore(cfg config.PersistenceConfig) (kv.Store, error) {
	switch cfg.Driver {
	case "memory":
		return kv.NewMemory(), nil
	case "file":
		return kv.OpenFile(cfg.Path)
	case "sqlite":
		return kv.OpenSQLite(cfg.Path)
	case "redis":
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		return kv.NewRedis(addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	sess := a.sess
	switch cmd {
	case "register":
		if len(args) != 2 {
			return fmt.Errorf("usage: roommate register <email> <password>")
		}
		pending, err := sess.Register(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if pending {
			fmt.Println("registered; check your email to confirm the account")
			return nil
		}
		fmt.Println("registered and signed in")
		return nil

	case "login":
		if len(args) != 2 {
			return fmt.Errorf("usage: roommate login <email> <password>")
		}
		if err := sess.Login(ctx, args[0], args[1]); err != nil {
			return err
		}
		waitForWorkspace(ctx, sess)
		printStatus(sess)
		return nil

	case "logout":
		if err := sess.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil

	case "status":
		printStatus(sess)
		return nil

	case "create":
		if len(args) != 1 {
			return fmt.Errorf("usage: roommate create <name>")
		}
		res, err := sess.CreateApartment(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created %q with room code %s\n", args[0], res.JoinCode)
		if res.Membership.Failed() {
			fmt.Println("note: membership record could not be written; the roster may lag")
		}
		return nil

	case "join":
		if len(args) != 1 {
			return fmt.Errorf("usage: roommate join <code>")
		}
		res, err := sess.JoinApartment(ctx, strings.ToUpper(args[0]))
		if err != nil {
			return err
		}
		if apt := sess.Apartment(); apt != nil {
			fmt.Printf("joined %q\n", apt.Name)
		} else {
			fmt.Printf("joined apartment %s\n", res.ApartmentID)
		}
		if res.Membership.Failed() {
			fmt.Println("note: membership record could not be written; the roster may lag")
		}
		return nil

	case "leave":
		if err := sess.LeaveApartment(ctx); err != nil {
			return err
		}
		fmt.Println("left the apartment")
		return nil

	case "switch":
		if len(args) != 1 {
			return fmt.Errorf("usage: roommate switch <apartment-id>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid apartment id: %w", err)
		}
		if err := sess.SwitchApartment(ctx, id); err != nil {
			return err
		}
		printStatus(sess)
		return nil

	case "apartments":
		summaries, err := sess.ListMyApartments(ctx)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("no apartments")
			return nil
		}
		for _, s := range summaries {
			fmt.Printf("%s  %-20s  %s  (%s)\n", s.Apartment.ID, s.Apartment.Name, s.Apartment.JoinCode, s.Role)
		}
		return nil

	case "members":
		members := service.NewMembers(a.dir, sess, a.logger)
		profiles, err := members.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range profiles {
			fmt.Printf("%s  %-20s  %s\n", p.UserID, p.DisplayName, p.Role)
		}
		return nil

	case "upload":
		if len(args) != 1 {
			return fmt.Errorf("usage: roommate upload <file>")
		}
		user, apt, err := requireWorkspace(sess)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		docs := service.NewDocuments(a.tables, a.storage, a.bus, a.logger)
		doc, err := docs.Upload(ctx, apt.ID, user.ID, filepath.Base(args[0]), mime.TypeByExtension(filepath.Ext(args[0])), data)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s (%s)\n", doc.Name, doc.ID)
		return nil

	case "rmdoc":
		if len(args) != 1 {
			return fmt.Errorf("usage: roommate rmdoc <document-id>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		docs := service.NewDocuments(a.tables, a.storage, a.bus, a.logger)
		if err := docs.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil

	case "request":
		if len(args) != 2 {
			return fmt.Errorf("usage: roommate request <document-id> <reason>")
		}
		user, apt, err := requireWorkspace(sess)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		requests := service.NewRequests(a.tables, a.bus, a.logger)
		notified, err := requests.Create(ctx, id, apt.ID, user.ID, args[1])
		if err != nil {
			return err
		}
		fmt.Println("request filed")
		if notified.Failed() {
			fmt.Println("note: notifications could not be delivered")
		}
		return nil

	case "resolve":
		if len(args) != 2 {
			return fmt.Errorf("usage: roommate resolve <request-id> <approved|rejected>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}
		requests := service.NewRequests(a.tables, a.bus, a.logger)
		notified, err := requests.Resolve(ctx, id, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("request %s\n", args[1])
		if notified.Failed() {
			fmt.Println("note: notifications could not be delivered")
		}
		return nil

	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: roommate watch <feed>")
		}
		return a.watch(ctx, args[0])

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func waitForWorkspace(ctx context.Context, sess *session.Store) {
	// Workspace population runs off the auth event; give it a moment.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		switch sess.State() {
		case session.StateReady, session.StateNoApartment, session.StateSignedOut:
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-tick.C:
		}
	}
}

func printStatus(sess *session.Store) {
	fmt.Printf("state: %s\n", sess.State())
	if u := sess.User(); u != nil {
		fmt.Printf("user: %s (%s)\n", u.Email, u.ID)
	}
	if apt := sess.Apartment(); apt != nil {
		fmt.Printf("apartment: %s  room code %s\n", apt.Name, apt.JoinCode)
	}
	if err := sess.Err(); err != nil {
		fmt.Printf("last error: %v\n", err)
	}
}

func (a *app) watch(ctx context.Context, feed string) error {
	feeds := service.NewFeeds(a.tables, a.sess, a.bus, a.logger)
	opts := service.FeedOptions{PollInterval: a.cfg.Sync.PollInterval}

	switch feed {
	case "chores":
		return stream(ctx, feeds.Chores(opts))
	case "expenses":
		return stream(ctx, feeds.Expenses(opts))
	case "guests":
		return stream(ctx, feeds.Guests(opts))
	case "documents":
		return stream(ctx, feeds.Documents(opts))
	case "requests":
		return stream(ctx, feeds.ModificationRequests(opts))
	case "notifications":
		return stream(ctx, feeds.Notifications(opts))
	default:
		return fmt.Errorf("unknown feed %q", feed)
	}
}

func stream[T any](ctx context.Context, w *collection.Watcher[T]) error {
	defer w.Close()

	updates, unsubscribe := w.Updates()
	defer unsubscribe()

	printSnapshot(w.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			printSnapshot(snap)
		}
	}
}

func printSnapshot[T any](snap collection.Snapshot[T]) {
	if snap.Loading {
		fmt.Println("loading...")
		return
	}
	if snap.Err != nil {
		fmt.Printf("error: %v\n", snap.Err)
		return
	}
	data, err := json.MarshalIndent(snap.Data, "", "  ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func requireWorkspace(sess *session.Store) (*domain.User, *session.ApartmentContext, error) {
	user := sess.User()
	if user == nil {
		return nil, nil, &domain.NotAuthenticatedError{Op: "workspace"}
	}
	apt := sess.Apartment()
	if apt == nil {
		return nil, nil, fmt.Errorf("no apartment selected")
	}
	return user, apt, nil
}
