package engine

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/whoson/whosonbot/internal/platform"
	"github.com/whoson/whosonbot/internal/resolver"
	"github.com/whoson/whosonbot/internal/store"
	"github.com/whoson/whosonbot/pkg/minecraft"
)

// reconcileServer runs one server through the poll → diff → mutate cycle.
// Probe failures render as offline; platform NotFound failures clear the
// stale id and recreate only the missing piece.
func (e *Engine) reconcileServer(ctx context.Context, guildID string, srv *store.TrackedServer, res resolver.Result) {
	log := e.logger.WithFields(logrus.Fields{
		"guild":  guildID,
		"server": srv.Target(),
	})

	status := res.Status
	if status == nil {
		status = &minecraft.Status{Online: false, Edition: minecraft.Edition(srv.ResolvedType)}
	}

	typeChanged := res.ResolvedType != srv.ResolvedType && res.ResolvedType != ""
	statusChanged := !srv.LastStatus.SnapshotEqual(status)

	// Steady state: channels exist and nothing they display has changed.
	// Skipping every platform write here is the primary defense against
	// the platform's request-rate limits.
	if srv.Provisioned() && !statusChanged {
		if typeChanged {
			e.persist(guildID, srv.ID, func(rec *store.TrackedServer) {
				rec.ResolvedType = res.ResolvedType
			})
		}
		return
	}

	name := RenderChannelName(srv.DisplayName(), status)

	createdVoice, createdText, err := e.ensureProvisioned(ctx, guildID, srv, name)
	if err != nil {
		e.reportFailure(guildID, "provisioning channels", err)
		// Persist whatever was created so the next cycle repairs the rest
		// instead of leaking channels.
		e.persist(guildID, srv.ID, func(rec *store.TrackedServer) {
			rec.VoiceChannelID = srv.VoiceChannelID
			rec.TextChannelID = srv.TextChannelID
			rec.MessageID = srv.MessageID
		})
		return
	}

	writesOK := true

	// A voice channel created this cycle already carries the rendered
	// name; a pre-existing one gets renamed.
	if !createdVoice {
		err := e.withRetry(ctx, func() error {
			return e.gateway.RenameChannel(ctx, srv.VoiceChannelID, name)
		})
		if errors.Is(err, platform.ErrNotFound) {
			srv.VoiceChannelID = ""
			createdVoice, _, err = e.ensureProvisioned(ctx, guildID, srv, name)
		}
		if err != nil {
			e.reportFailure(guildID, "renaming voice channel", err)
			writesOK = false
		}
	}

	embed := BuildStatusEmbed(srv, status, res.Err)
	if err := e.upsertEmbed(ctx, guildID, srv, embed); err != nil {
		e.reportFailure(guildID, "updating status message", err)
		writesOK = false
	}

	resolvedType := srv.ResolvedType
	if typeChanged {
		resolvedType = res.ResolvedType
	}
	var last *store.LastStatus
	if writesOK {
		last = store.NewLastStatus(status)
	}

	e.persist(guildID, srv.ID, func(rec *store.TrackedServer) {
		rec.ResolvedType = resolvedType
		rec.VoiceChannelID = srv.VoiceChannelID
		rec.TextChannelID = srv.TextChannelID
		rec.MessageID = srv.MessageID
		if last != nil {
			rec.LastStatus = last
		}
	})

	if createdVoice || createdText {
		log.Info("Provisioned presentation channels")
	}
}

// ensureProvisioned creates whichever of the category, voice channel, and
// text channel are missing, leaving existing pieces untouched. The voice
// channel is created with the rendered name and a connect-deny overwrite
// for the default role, so it stays visible but unjoinable.
func (e *Engine) ensureProvisioned(ctx context.Context, guildID string, srv *store.TrackedServer, voiceName string) (createdVoice, createdText bool, err error) {
	if srv.Provisioned() {
		return false, false, nil
	}

	var categoryID string
	err = e.withRetry(ctx, func() error {
		var cerr error
		categoryID, cerr = e.gateway.EnsureCategory(ctx, guildID, e.cfg.CategoryName)
		return cerr
	})
	if err != nil {
		return false, false, err
	}

	if srv.VoiceChannelID == "" {
		var voiceID string
		err = e.withRetry(ctx, func() error {
			var cerr error
			voiceID, cerr = e.gateway.CreateVoiceChannel(ctx, guildID, categoryID, voiceName)
			return cerr
		})
		if err != nil {
			return false, false, err
		}
		srv.VoiceChannelID = voiceID
		createdVoice = true

		if err := e.withRetry(ctx, func() error {
			return e.gateway.DenyConnect(ctx, guildID, voiceID)
		}); err != nil {
			// The channel still works as a display; the overwrite is
			// re-attempted by the permissions command.
			e.reportFailure(guildID, "restricting voice channel access", err)
		}
	}

	if srv.TextChannelID == "" {
		var textID string
		err = e.withRetry(ctx, func() error {
			var cerr error
			textID, cerr = e.gateway.CreateTextChannel(
				ctx, guildID, categoryID,
				TextChannelName(srv.DisplayName()),
				"Tracking "+srv.Target(),
			)
			return cerr
		})
		if err != nil {
			return createdVoice, false, err
		}
		srv.TextChannelID = textID
		srv.MessageID = ""
		createdText = true
	}

	return createdVoice, createdText, nil
}

// upsertEmbed edits the persistent status message in place, falling back to
// sending a new one when no message id is recorded or the platform reports
// the old one gone. A vanished text channel is recreated first.
func (e *Engine) upsertEmbed(ctx context.Context, guildID string, srv *store.TrackedServer, embed *discordgo.MessageEmbed) error {
	if srv.MessageID != "" {
		err := e.withRetry(ctx, func() error {
			return e.gateway.EditEmbed(ctx, srv.TextChannelID, srv.MessageID, embed)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, platform.ErrNotFound) {
			return err
		}
		srv.MessageID = ""
	}

	var messageID string
	err := e.withRetry(ctx, func() error {
		var serr error
		messageID, serr = e.gateway.SendEmbed(ctx, srv.TextChannelID, embed)
		return serr
	})
	if errors.Is(err, platform.ErrNotFound) {
		// The text channel itself is gone: repair that piece and resend.
		srv.TextChannelID = ""
		name := RenderChannelName(srv.DisplayName(), lastStatusToStatus(srv.LastStatus))
		if _, _, perr := e.ensureProvisioned(ctx, guildID, srv, name); perr != nil {
			return perr
		}
		err = e.withRetry(ctx, func() error {
			var serr error
			messageID, serr = e.gateway.SendEmbed(ctx, srv.TextChannelID, embed)
			return serr
		})
	}
	if err != nil {
		return err
	}
	srv.MessageID = messageID
	return nil
}

// ReapplyPermissions re-applies the connect-deny overwrite on every tracked
// voice channel in a guild, for recovery after the bot's role permissions
// were fixed. Returns the display names that succeeded and failed.
func (e *Engine) ReapplyPermissions(ctx context.Context, guildID string) (fixed, failed []string) {
	cfg, ok := e.store.Guild(guildID)
	if !ok {
		return nil, nil
	}
	for _, srv := range cfg.Servers {
		if srv.VoiceChannelID == "" {
			continue
		}
		err := e.withRetry(ctx, func() error {
			return e.gateway.DenyConnect(ctx, guildID, srv.VoiceChannelID)
		})
		if err != nil {
			failed = append(failed, srv.DisplayName())
			continue
		}
		fixed = append(fixed, srv.DisplayName())
	}
	return fixed, failed
}

// reportFailure classifies a mutation failure: permission errors become
// guild-visible warnings, everything else is logged and deferred to the
// next cycle.
func (e *Engine) reportFailure(guildID, operation string, err error) {
	if errors.Is(err, platform.ErrPermissionDenied) {
		e.notePermissionFailure(guildID, operation, err)
		return
	}
	e.logger.WithError(err).WithFields(logrus.Fields{
		"guild":     guildID,
		"operation": operation,
	}).Error("Platform mutation failed, deferring to next cycle")
}

func (e *Engine) persist(guildID, serverID string, fn func(*store.TrackedServer)) {
	if err := e.store.UpdateServer(guildID, serverID, fn); err != nil {
		// Retry once: the store must not silently lose engine-owned state.
		if err = e.store.UpdateServer(guildID, serverID, fn); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"guild":  guildID,
				"server": serverID,
			}).Error("Persisting reconciliation state failed")
		}
	}
}

// RemoveServer deletes a tracked server's record and tears down both of its
// channels. Channel deletion is best-effort: failures are logged and the
// record is removed regardless, so no dangling store reference remains.
func (e *Engine) RemoveServer(ctx context.Context, guildID, serverID string) (*store.TrackedServer, error) {
	e.acquire(guildID)
	defer e.release(guildID)

	removed, err := e.store.RemoveServer(guildID, serverID)
	if err != nil {
		return nil, err
	}
	e.deleteServerChannels(ctx, guildID, removed)

	if _, stillTracked := e.store.Guild(guildID); !stillTracked {
		e.removeCategoryIfEmpty(ctx, guildID)
	}
	return removed, nil
}

// Cleanup removes every tracked server in a guild and the tracking
// category once it is empty.
func (e *Engine) Cleanup(ctx context.Context, guildID string) (int, error) {
	e.acquire(guildID)
	defer e.release(guildID)

	cfg, err := e.store.DropGuild(guildID)
	if err != nil {
		return 0, err
	}
	for _, srv := range cfg.Servers {
		e.deleteServerChannels(ctx, guildID, srv)
	}
	e.removeCategoryIfEmpty(ctx, guildID)
	return len(cfg.Servers), nil
}

// DropGuildState discards a guild's configuration without touching the
// platform, for when the bot has been removed from the guild.
func (e *Engine) DropGuildState(guildID string) error {
	e.acquire(guildID)
	defer e.release(guildID)

	_, err := e.store.DropGuild(guildID)
	if errors.Is(err, store.ErrGuildNotFound) {
		return nil
	}
	return err
}

func (e *Engine) deleteServerChannels(ctx context.Context, guildID string, srv *store.TrackedServer) {
	for _, channelID := range []string{srv.VoiceChannelID, srv.TextChannelID} {
		if channelID == "" {
			continue
		}
		err := e.withRetry(ctx, func() error {
			return e.gateway.DeleteChannel(ctx, channelID)
		})
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"guild":   guildID,
				"channel": channelID,
				"server":  srv.Target(),
			}).Error("Deleting channel failed")
		}
	}
}

func (e *Engine) removeCategoryIfEmpty(ctx context.Context, guildID string) {
	categoryID, err := e.gateway.FindCategory(ctx, guildID, e.cfg.CategoryName)
	if err != nil || categoryID == "" {
		return
	}
	count, err := e.gateway.CategoryChannelCount(ctx, guildID, categoryID)
	if err != nil || count > 0 {
		return
	}
	if err := e.withRetry(ctx, func() error {
		return e.gateway.DeleteChannel(ctx, categoryID)
	}); err != nil {
		e.logger.WithError(err).WithField("guild", guildID).Error("Deleting tracking category failed")
	}
}
