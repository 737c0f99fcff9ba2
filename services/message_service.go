package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/pkg/media"
	"github.com/serofero/server/pkg/metrics"
	"github.com/serofero/server/repository"
	"github.com/serofero/server/ws"
)

// Notifier pushes an event to a connected user. ws.Hub satisfies it.
type Notifier interface {
	Send(userID int64, payload any) bool
}

// ContentCipher encrypts message bodies at rest. *crypto.ContentCipher
// satisfies it. DecryptString never fails: content that cannot be
// decrypted is returned as stored.
type ContentCipher interface {
	EncryptString(s string) (string, error)
	DecryptString(s string) string
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename string
	Size     int64 // declared size, -1 when unknown
	Reader   io.Reader
}

type SendMessageRequest struct {
	ReceiverID int64
	Content    string
	Attachment *Attachment
}

// MessageServiceConfig bounds attachment handling.
type MessageServiceConfig struct {
	TempDir       string
	MaxUploadSize int64
	UploadTimeout time.Duration
	UploadRetries uint64
}

// MessageService stores direct messages and delivers them in realtime.
//
// A message with an attachment is stored immediately with status
// "uploading" and pushed to both users; the upload then runs in the
// background and a message_updated event follows with the final status.
type MessageService interface {
	Send(ctx context.Context, sender *models.User, req SendMessageRequest) (*models.MessageResponse, error)

	// Wait blocks until every background upload has finished.
	Wait()
}

type messageService struct {
	messages repository.MessageRepository
	tx       repository.MessageTx
	users    repository.UserRepository
	blocks   BlockChecker
	cipher   ContentCipher
	store    media.Store
	notifier Notifier
	cfg      MessageServiceConfig
	log      *zap.Logger

	newBackOff func() backoff.BackOff

	// uploads outlive the request that started them
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewMessageService builds the delivery orchestrator.
func NewMessageService(
	messages repository.MessageRepository,
	tx repository.MessageTx,
	users repository.UserRepository,
	blocks BlockChecker,
	cipher ContentCipher,
	store media.Store,
	notifier Notifier,
	cfg MessageServiceConfig,
	log *zap.Logger,
) MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	return &messageService{
		messages: messages,
		tx:       tx,
		users:    users,
		blocks:   blocks,
		cipher:   cipher,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log.Named("delivery"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		baseCtx: context.Background(),
	}
}

func (s *messageService) Send(ctx context.Context, sender *models.User, req SendMessageRequest) (*models.MessageResponse, error) {
	if req.ReceiverID == sender.ID {
		return nil, fmt.Errorf("%w: Cannot send message to yourself", pkg.ErrBadRequest)
	}

	receiver, err := s.users.GetByID(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, pkg.ErrNotFound) {
			return nil, fmt.Errorf("%w: User not found", pkg.ErrNotFound)
		}
		return nil, fmt.Errorf("load receiver: %w", err)
	}

	blocked, err := s.blocks.IsBlocked(ctx, sender.ID, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("%w: Cannot send message to this user", pkg.ErrForbidden)
	}

	content := strings.TrimSpace(html.EscapeString(req.Content))

	if req.Attachment != nil {
		return s.sendAttachment(ctx, sender, receiver, content, req.Attachment)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: Message cannot be empty", pkg.ErrBadRequest)
	}
	return s.sendText(ctx, sender, receiver, content)
}

func (s *messageService) sendText(ctx context.Context, sender, receiver *models.User, content string) (*models.MessageResponse, error) {
	msg, err := s.persist(ctx, sender, receiver, content, models.MessageTypeText, models.MessageStatusSent)
	if err != nil {
		return nil, err
	}

	view := s.view(msg, content, sender, receiver)
	event := ws.MessageEvent(ws.TypeNewMessage, view)
	s.notifier.Send(receiver.ID, event)
	s.notifier.Send(sender.ID, event)

	update := ws.ConversationUpdateEvent()
	s.notifier.Send(sender.ID, update)
	s.notifier.Send(receiver.ID, update)

	return view, nil
}

func (s *messageService) sendAttachment(ctx context.Context, sender, receiver *models.User, content string, att *Attachment) (*models.MessageResponse, error) {
	filename := media.SanitizeFilename(att.Filename)

	path, err := s.buffer(att)
	if err != nil {
		return nil, err
	}

	if content == "" {
		content = filename
	}

	msg, err := s.persist(ctx, sender, receiver, content, models.MessageTypeFile, models.MessageStatusUploading)
	if err != nil {
		s.removeTemp(path)
		return nil, err
	}

	view := s.view(msg, content, sender, receiver)
	event := ws.MessageEvent(ws.TypeNewMessage, view)
	s.notifier.Send(sender.ID, event)
	s.notifier.Send(receiver.ID, event)

	update := ws.ConversationUpdateEvent()
	s.notifier.Send(sender.ID, update)
	s.notifier.Send(receiver.ID, update)

	background := *view
	s.wg.Add(1)
	go s.finishUpload(&background, path, filename)

	return view, nil
}

// persist encrypts content and inserts the row.
func (s *messageService) persist(ctx context.Context, sender, receiver *models.User, content string, msgType models.MessageType, status models.MessageStatus) (*models.Message, error) {
	sealed, err := s.cipher.EncryptString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt message content", pkg.ErrInternal)
	}

	msg := &models.Message{
		Content:     sealed,
		SenderID:    sender.ID,
		ReceiverID:  receiver.ID,
		MessageType: msgType,
		Status:      status,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

func (s *messageService) view(msg *models.Message, plaintext string, sender, receiver *models.User) *models.MessageResponse {
	return &models.MessageResponse{
		ID:          msg.ID,
		Content:     plaintext,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		MessageType: msg.MessageType,
		MediaURL:    msg.MediaURL,
		Status:      msg.Status,
		IsRead:      msg.IsRead,
		CreatedAt:   msg.CreatedAt,
		Sender:      sender.Summary(),
		Receiver:    receiver.Summary(),
	}
}

// buffer copies the attachment into a uniquely named temp file. Anything
// larger than MaxUploadSize is rejected and never kept on disk.
func (s *messageService) buffer(att *Attachment) (string, error) {
	limit := s.cfg.MaxUploadSize
	if att.Size > limit {
		return "", s.tooLarge()
	}

	f, err := os.CreateTemp(s.cfg.TempDir, uuid.NewString()+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	n, err := io.Copy(f, io.LimitReader(att.Reader, limit+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.removeTemp(path)
		return "", fmt.Errorf("buffer attachment: %w", err)
	}
	if n > limit {
		s.removeTemp(path)
		return "", s.tooLarge()
	}
	return path, nil
}

func (s *messageService) tooLarge() error {
	return fmt.Errorf("%w: File too large. Maximum size is %dMB", pkg.ErrTooLarge, s.cfg.MaxUploadSize/(1024*1024))
}

// finishUpload uploads the buffered file and reports the outcome to both
// users. The temp file is removed on every path, panics included.
func (s *messageService) finishUpload(view *models.MessageResponse, path, filename string) {
	defer s.wg.Done()
	defer s.removeTemp(path)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("upload task panicked", zap.Int64("message_id", view.ID), zap.Any("panic", r), zap.Stack("stack"))
			s.markFailed(view)
		}
	}()

	log := s.log.With(zap.Int64("message_id", view.ID), zap.String("filename", filename))
	started := time.Now()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.UploadTimeout)
	defer cancel()

	var (
		url     string
		msgType models.MessageType
	)
	attempt := func() error {
		u, t, err := s.store.Upload(ctx, path, filename)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return backoff.Permanent(err)
			}
			log.Warn("upload attempt failed", zap.Error(err))
			return err
		}
		url, msgType = u, t
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.cfg.UploadRetries), ctx)
	err := backoff.Retry(attempt, policy)
	metrics.UploadDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		log.Error("attachment upload failed", zap.Error(err))
		s.markFailed(view)
		return
	}

	stored, err := s.recordDelivery(view.ID, url, msgType)
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		log.Error("record upload result", zap.Error(err))
		s.markFailed(view)
		return
	}

	metrics.Uploads.WithLabelValues("succeeded").Inc()
	view.Content = s.cipher.DecryptString(stored.Content)
	view.Status = stored.Status
	view.MediaURL = stored.MediaURL
	view.MessageType = stored.MessageType
	s.pushUpdate(view)
}

// recordDelivery stores the upload result and reads the row back in one
// transaction, so the pushed update is exactly what was committed. If the
// re-read fails the update is rolled back and the caller marks the message
// failed instead.
func (s *messageService) recordDelivery(id int64, url string, msgType models.MessageType) (*models.Message, error) {
	var stored *models.Message
	err := s.tx.WithMessageTx(s.baseCtx, func(repo repository.MessageRepository) error {
		if err := repo.UpdateDelivery(s.baseCtx, id, url, msgType, models.MessageStatusSent); err != nil {
			return err
		}
		m, err := repo.GetByID(s.baseCtx, id)
		if err != nil {
			return err
		}
		stored = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *messageService) markFailed(view *models.MessageResponse) {
	if err := s.messages.UpdateStatus(s.baseCtx, view.ID, models.MessageStatusFailed); err != nil {
		s.log.Error("mark message failed", zap.Int64("message_id", view.ID), zap.Error(err))
	}
	view.Status = models.MessageStatusFailed
	s.pushUpdate(view)
}

func (s *messageService) pushUpdate(view *models.MessageResponse) {
	event := ws.MessageEvent(ws.TypeMessageUpdated, view)
	s.notifier.Send(view.SenderID, event)
	s.notifier.Send(view.ReceiverID, event)
}

func (s *messageService) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("remove temp file", zap.String("path", path), zap.Error(err))
	}
}

func (s *messageService) Wait() {
	s.wg.Wait()
}
