package usecase

import (
	"context"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"go.uber.org/fx"

	"github.com/nftcoinmkt/aibot/internal/config"
	"github.com/nftcoinmkt/aibot/internal/models"
	"github.com/nftcoinmkt/aibot/internal/session"
)

// StartWatchers opens the configured channels on start and streams their
// activity to the log. This is the headless presentation collaborator; the
// status server exposes the same views over HTTP.
func StartWatchers(
	lc fx.Lifecycle,
	conf *config.Config,
	uc ChannelUsecase,
) {
	if len(conf.Watch.Channels) == 0 {
		log.Infow(context.Background(), "no watched channels configured")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, channelID := range conf.Watch.Channels {
				_, err := uc.Open(ctx, OpenParams{
					ChannelID: channelID,
					Token:     conf.Watch.Token,
					SenderID:  conf.Watch.UserID,
					Observer:  loggingObserver(),
				})
				if err != nil {
					log.Errorw(ctx, "failed to open watched channel",
						"channel_id", channelID, "error", err.Error())
					return err
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			uc.CloseAll()
			return nil
		},
	})
}

func loggingObserver() Observer {
	ctx := context.Background()
	return Observer{
		OnViewChanged: func(channelID int64, messages []models.Message) {
			if len(messages) == 0 {
				return
			}
			head := messages[0]
			log.Infow(ctx, "view changed",
				"channel_id", channelID,
				"count", len(messages),
				"head_id", head.ID,
				"head_sender", head.SenderID,
				"head_status", string(head.Status),
			)
		},
		OnConnectionStateChanged: func(channelID int64, state session.State) {
			log.Infow(ctx, "connection state changed",
				"channel_id", channelID, "state", state.String())
		},
		OnPresenceChanged: func(channelID int64, online []models.PresenceRecord) {
			log.Infow(ctx, "presence changed",
				"channel_id", channelID, "online_count", len(online))
		},
	}
}
