// Package service реализует протокол учёта платежей: регистрацию намерения,
// проверку события шлюза, разрешение пользователя и идемпотентное зачисление.
// Все точки входа (webhook, опрос статуса) проходят через один и тот же код —
// расхождение логики между ними было бы ошибкой корректности.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ankudinov/miniapp-billing/internal/identity"
	"github.com/ankudinov/miniapp-billing/internal/model"
	"github.com/ankudinov/miniapp-billing/internal/pricing"
	"github.com/ankudinov/miniapp-billing/internal/repository"
	"github.com/ankudinov/miniapp-billing/internal/tbank"
)

const (
	maxDescriptionLen = 250
	notifyTimeout     = 5 * time.Second
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetOrCreateUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	CreatePendingIntent(ctx context.Context, intent model.Intent, description string, recurrent bool) error
	GetIntentByOrderID(ctx context.Context, orderID string) (*model.Intent, error)
	CreateDeposit(ctx context.Context, userID uuid.UUID, credits int64, orderID, paymentID string, rawEvent []byte) (int64, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	GetLedgerByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.LedgerEntry, error)
}

// Gateway описывает операции платёжного шлюза, используемые сервисом.
type Gateway interface {
	Init(ctx context.Context, req tbank.InitRequest) (*tbank.InitResult, error)
	GetState(ctx context.Context, paymentID string) (*tbank.State, error)
	VerifyNotification(body []byte) (*tbank.Notification, bool)
}

// Notifier отправляет пользователю подтверждение зачисления.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, chatID int64, credited, newBalance int64)
}

// CallbackURLs — адреса, передаваемые шлюзу при регистрации платежа:
// куда присылать уведомления о смене статуса и куда вернуть пользователя
// после успешной оплаты. Без Notification шлюз не сможет доставить событие
// на webhook, и зачисление будет зависеть только от клиентского опроса.
type CallbackURLs struct {
	Notification string
	Success      string
}

// Service содержит бизнес-логику учёта платежей.
type Service struct {
	repo     Repository
	gateway  Gateway
	notifier Notifier
	urls     CallbackURLs
	logger   *zap.Logger
}

// NewService создаёт сервис. Notifier может быть nil — уведомления тогда отключены.
func NewService(repo Repository, gateway Gateway, notifier Notifier, urls CallbackURLs, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		urls:     urls,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// IntentRequest — запрос на создание намерения оплаты.
type IntentRequest struct {
	Amount      int64
	Description string
	// Identity — идентификатор покупателя в любом из принимаемых видов
	// (UUID пользователя или telegram id); может быть пуст.
	Identity  string
	Recurrent bool
}

// IntentResult — данные для редиректа пользователя на платёжную форму.
type IntentResult struct {
	OrderID    string
	PaymentID  string
	PaymentURL string
}

// CreateIntent регистрирует платёж в шлюзе и сохраняет pending_init-строку.
// Сохранение — best-effort: его сбой не должен блокировать редирект,
// обработчик события умеет восстанавливать идентичность и без него.
func (s *Service) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if len(req.Description) > maxDescriptionLen {
		req.Description = req.Description[:maxDescriptionLen]
	}

	user, err := s.resolvePurchaser(ctx, req.Identity)
	if err != nil {
		s.logger.Warn("purchaser not resolved at intent time",
			zap.String("identity", req.Identity),
			zap.Error(err),
		)
	}

	orderID, err := newOrderID()
	if err != nil {
		return nil, fmt.Errorf("generate order id: %w", err)
	}

	data := map[string]string{}
	if user != nil {
		data["user_id"] = user.ID.String()
		if user.TelegramID != nil {
			data["telegram_id"] = fmt.Sprintf("%d", *user.TelegramID)
		}
	}

	initRes, err := s.gateway.Init(ctx, tbank.InitRequest{
		Amount:          req.Amount,
		OrderID:         orderID,
		Description:     req.Description,
		NotificationURL: s.urls.Notification,
		SuccessURL:      s.urls.Success,
		Recurrent:       req.Recurrent,
		Data:            data,
	})
	if err != nil {
		return nil, err
	}

	intent := model.Intent{
		OrderID:   orderID,
		PaymentID: initRes.PaymentID,
		Amount:    req.Amount,
	}
	if user != nil {
		id := user.ID
		intent.UserID = &id
		intent.TelegramID = user.TelegramID
	}

	if err := s.repo.CreatePendingIntent(ctx, intent, req.Description, req.Recurrent); err != nil {
		s.logger.Error("pending intent not persisted",
			zap.String("order_id", orderID),
			zap.String("payment_id", initRes.PaymentID),
			zap.Error(err),
		)
	}

	return &IntentResult{
		OrderID:    orderID,
		PaymentID:  initRes.PaymentID,
		PaymentURL: initRes.PaymentURL,
	}, nil
}

// CreditOutcome — результат обработки платёжного события.
type CreditOutcome string

const (
	// OutcomeCredited — зачисление выполнено этим вызовом.
	OutcomeCredited CreditOutcome = "CREDITED"
	// OutcomeAlreadyCredited — зачисление по этому платежу уже существовало.
	OutcomeAlreadyCredited CreditOutcome = "ALREADY_CREDITED"
	// OutcomeRejected — событие не привело к записям: невалидная подпись,
	// неразрешимый пользователь или нефинальный статус.
	OutcomeRejected CreditOutcome = "REJECTED"
)

// CreditResult — детали обработки платёжного события.
type CreditResult struct {
	Outcome    CreditOutcome
	Reason     string
	Status     model.PaymentStatus
	Credited   int64
	NewBalance int64
}

// paymentEvent — проверенное платёжное событие. Создаётся только из
// уведомления с валидной подписью или из ответа шлюза на подписанный запрос.
type paymentEvent struct {
	orderID   string
	paymentID string
	status    model.PaymentStatus
	amount    int64
	data      map[string]string
	raw       []byte
}

// ProcessNotification обрабатывает push-уведомление шлюза. Ошибка возвращается
// только при сбое хранилища: повторная доставка события тогда безопасно
// завершит зачисление. Транспортный ответ шлюзу всегда успешный.
func (s *Service) ProcessNotification(ctx context.Context, body []byte) (CreditResult, error) {
	n, valid := s.gateway.VerifyNotification(body)
	if !valid {
		s.logger.Warn("notification signature mismatch")
		return CreditResult{Outcome: OutcomeRejected, Reason: "invalid signature"}, nil
	}

	return s.credit(ctx, paymentEvent{
		orderID:   n.OrderID,
		paymentID: n.PaymentID,
		status:    model.PaymentStatus(n.Status),
		amount:    n.Amount,
		data:      n.Data,
		raw:       n.Raw,
	})
}

// StatusResult — ответ на клиентский запрос статуса платежа.
type StatusResult struct {
	Status     model.PaymentStatus
	Outcome    CreditOutcome
	NewBalance int64
}

// CheckStatus — клиентский fallback на случай недоставленного webhook:
// запрашивает статус у шлюза и проводит событие через тот же путь зачисления.
func (s *Service) CheckStatus(ctx context.Context, paymentID, orderID, rawIdentity string) (*StatusResult, error) {
	if paymentID == "" {
		if orderID == "" {
			return nil, errors.New("payment id or order id required")
		}
		intent, err := s.repo.GetIntentByOrderID(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("resolve payment by order: %w", err)
		}
		paymentID = intent.PaymentID
	}

	state, err := s.gateway.GetState(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if state.OrderID == "" {
		state.OrderID = orderID
	}

	data := map[string]string{}
	if rawIdentity != "" {
		data["user_id"] = rawIdentity
	}

	res, err := s.credit(ctx, paymentEvent{
		orderID:   state.OrderID,
		paymentID: state.PaymentID,
		status:    model.PaymentStatus(state.Status),
		amount:    state.Amount,
		data:      data,
	})
	if err != nil {
		return nil, err
	}

	return &StatusResult{
		Status:     model.PaymentStatus(state.Status),
		Outcome:    res.Outcome,
		NewBalance: res.NewBalance,
	}, nil
}

// credit — единственный путь зачисления: фильтр статуса, разрешение
// пользователя, расчёт кредитов, атомарная запись, уведомление.
func (s *Service) credit(ctx context.Context, ev paymentEvent) (CreditResult, error) {
	if !ev.status.IsTerminalSuccess() {
		return CreditResult{
			Outcome: OutcomeRejected,
			Reason:  "non-terminal status",
			Status:  ev.status,
		}, nil
	}

	user, err := s.resolveUser(ctx, ev)
	if err != nil {
		// Деньги получены, адресата нет: требуется ручная сверка.
		s.logger.Error("confirmed payment with unresolvable user",
			zap.String("order_id", ev.orderID),
			zap.String("payment_id", ev.paymentID),
			zap.Int64("amount", ev.amount),
			zap.Error(err),
		)
		return CreditResult{
			Outcome: OutcomeRejected,
			Reason:  "unresolvable user",
			Status:  ev.status,
		}, nil
	}

	credits := pricing.CreditsFor(ev.amount)

	newBalance, err := s.repo.CreateDeposit(ctx, user.ID, credits, ev.orderID, ev.paymentID, ev.raw)
	if err != nil {
		if errors.Is(err, repository.ErrDepositExists) {
			s.logger.Info("duplicate payment delivery",
				zap.String("order_id", ev.orderID),
				zap.String("payment_id", ev.paymentID),
			)
			return CreditResult{
				Outcome: OutcomeAlreadyCredited,
				Status:  ev.status,
			}, nil
		}
		return CreditResult{}, fmt.Errorf("create deposit: %w", err)
	}

	s.logger.Info("payment credited",
		zap.String("order_id", ev.orderID),
		zap.String("payment_id", ev.paymentID),
		zap.String("user_id", user.ID.String()),
		zap.Int64("credits", credits),
		zap.Int64("balance", newBalance),
	)

	if s.notifier != nil && user.TelegramID != nil {
		chatID := *user.TelegramID
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			s.notifier.PaymentConfirmed(notifyCtx, chatID, credits, newBalance)
		}()
	}

	return CreditResult{
		Outcome:    OutcomeCredited,
		Status:     ev.status,
		Credited:   credits,
		NewBalance: newBalance,
	}, nil
}

// resolveUser разрешает пользователя по данным события: явный UUID из
// метаданных, затем telegram id, затем сохранённое намерение по заказу.
func (s *Service) resolveUser(ctx context.Context, ev paymentEvent) (*model.User, error) {
	var lastErr error

	if raw, ok := ev.data["user_id"]; ok {
		switch id := identity.Parse(raw); id.Kind {
		case identity.KindUserID:
			user, err := s.repo.GetUserByID(ctx, id.UserID)
			if err == nil {
				return user, nil
			}
			lastErr = err
		case identity.KindTelegramID:
			return s.repo.GetOrCreateUserByTelegramID(ctx, id.TelegramID)
		}
	}

	if raw, ok := ev.data["telegram_id"]; ok {
		if id := identity.Parse(raw); id.Kind == identity.KindTelegramID {
			return s.repo.GetOrCreateUserByTelegramID(ctx, id.TelegramID)
		}
	}

	if ev.orderID != "" {
		intent, err := s.repo.GetIntentByOrderID(ctx, ev.orderID)
		if err == nil {
			if intent.UserID != nil {
				user, uerr := s.repo.GetUserByID(ctx, *intent.UserID)
				if uerr == nil {
					return user, nil
				}
				lastErr = uerr
			}
			if intent.TelegramID != nil {
				return s.repo.GetOrCreateUserByTelegramID(ctx, *intent.TelegramID)
			}
		} else if !errors.Is(err, repository.ErrIntentNotFound) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("no identity in event or stored intent")
}

// resolvePurchaser разрешает покупателя на этапе создания намерения.
// Неизвестный telegram id приводит к созданию пользователя.
func (s *Service) resolvePurchaser(ctx context.Context, raw string) (*model.User, error) {
	id := identity.Parse(raw)
	switch id.Kind {
	case identity.KindUserID:
		return s.repo.GetUserByID(ctx, id.UserID)
	case identity.KindTelegramID:
		return s.repo.GetOrCreateUserByTelegramID(ctx, id.TelegramID)
	default:
		return nil, errors.New("purchaser identity is empty or unrecognized")
	}
}

// GetBalance возвращает баланс пользователя по любому принимаемому идентификатору.
func (s *Service) GetBalance(ctx context.Context, rawIdentity string) (*model.Balance, error) {
	user, err := s.resolvePurchaser(ctx, rawIdentity)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetBalance(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &model.Balance{UserID: user.ID, Current: current}, nil
}

// GetHistory возвращает историю операций пользователя для мини-приложения.
func (s *Service) GetHistory(ctx context.Context, rawIdentity string) ([]model.LedgerEntry, error) {
	user, err := s.resolvePurchaser(ctx, rawIdentity)
	if err != nil {
		return nil, err
	}

	return s.repo.GetLedgerByUser(ctx, user.ID, 100)
}

// newOrderID генерирует уникальный идентификатор заказа: миллисекундная метка
// времени плюс случайный суффикс.
func newOrderID() (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix)), nil
}
