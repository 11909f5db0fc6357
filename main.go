package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
	"golang.org/x/oauth2"

	"swipetune/auth"
	appConfig "swipetune/config"
	"swipetune/controller"
	"swipetune/database"
	"swipetune/expansion"
	"swipetune/gemini"
	"swipetune/handlers"
	"swipetune/recommend"
	"swipetune/sentry"
	"swipetune/spotify"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf("Error loading .env file: %v", err)
	}
	appConfig.NewConfig()
	setupLogging(appConfig.Config.Options.LogLevel)

	sentry.Init(appConfig.Config.Sentry)
	defer sentry.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		sentry.ReportError(err)
		sentry.Flush()
		log.Fatal(err)
	}
}

func setupLogging(level string) {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		FieldsOrder:     []string{"module", "method", "sessionID"},
		TimestampFormat: time.RFC3339,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func run(ctx context.Context) error {
	cfg := appConfig.Config

	exchanger, err := auth.NewSpotifyExchanger(cfg.Spotify)
	if err != nil {
		return err
	}

	swipeLog, err := database.New()
	if err != nil {
		return err
	}
	defer swipeLog.Close()

	var generator expansion.Generator
	if g, err := gemini.New(ctx, cfg.Gemini); err == nil {
		generator = g
	} else {
		log.Infof("AI expansion disabled: %v", err)
	}

	recommendOpts := recommend.Options{
		SearchWindow: cfg.Recommend.SearchWindow,
		CandidateCap: cfg.Recommend.CandidateCap,
		DefaultLimit: cfg.Recommend.DefaultLimit,
		Concurrency:  cfg.Recommend.Concurrency,
	}
	expansionOpts := expansion.Options{
		MaxSuggestions: cfg.Recommend.MaxSuggestions,
	}

	backend := func(ts oauth2.TokenSource) controller.Services {
		client := spotify.NewClient(ctx, ts, spotify.WithRateLimit(cfg.Spotify.RateLimit))
		services := controller.Services{
			Catalog:     client,
			Recommender: recommend.New(client, recommendOpts),
		}
		if generator != nil {
			services.Expander = expansion.New(generator, client, expansionOpts)
		}
		return services
	}

	sessions := controller.NewController(exchanger, backend, swipeLog, controller.Options{
		LikeThreshold: cfg.Session.LikeThreshold,
		QueueLowWater: cfg.Session.QueueLowWater,
		PlaylistName:  cfg.Session.PlaylistName,
		AuthOptions:   []auth.ManagerOption{auth.WithRefreshMargin(cfg.Session.RefreshMargin)},
	})
	defer sessions.Shutdown()

	manager := &handlers.Manager{
		Controller: sessions,
		Exchanger:  exchanger,
		Catalog: func(ctx context.Context, accessToken string) handlers.Catalog {
			return spotify.NewClientWithToken(ctx, accessToken, spotify.WithRateLimit(cfg.Spotify.RateLimit))
		},
		Generator:    generator,
		Recommend:    recommendOpts,
		Expansion:    expansionOpts,
		PlaylistName: cfg.Session.PlaylistName,
	}

	router := gin.Default()
	router.Use(sentry.GetSentryGin())
	manager.Register(router)

	listener, err := listen(ctx, cfg)
	if err != nil {
		return err
	}

	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("server shutdown: %v", err)
		}
	}()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func listen(ctx context.Context, cfg *appConfig.ConfigStruct) (net.Listener, error) {
	if cfg.NGrok.IsEnabled() {
		listener, err := ngrok.Listen(ctx,
			config.HTTPEndpoint(
				config.WithDomain(cfg.NGrok.Domain),
			),
			ngrok.WithAuthtokenFromEnv(), // defaults to NGROK_AUTHTOKEN
		)
		if err != nil {
			return nil, err
		}
		log.Infof("Ngrok URL: %s", listener.URL())
		return listener, nil
	}

	port := cfg.Options.Port
	if port == "" {
		port = "8080"
	}
	log.Infof("Starting server on :%s", port)
	return net.Listen("tcp", ":"+port)
}
