package app

import (
	"github.com/carousell/ct-go/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"

	"github.com/nftcoinmkt/aibot/internal/config"
	"github.com/nftcoinmkt/aibot/internal/repo/chatapi"
	"github.com/nftcoinmkt/aibot/internal/server"
	"github.com/nftcoinmkt/aibot/internal/usecase"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	conf := config.MustLoad()
	log.Debugw("config loaded", log.Reflect("config", conf))
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			server.NewHandler,

			usecase.NewChannelUsecase,

			chatapi.NewClient,
		),
		fx.Supply(conf),
		fx.Invoke(funcs...),
	)
}
