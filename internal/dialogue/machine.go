package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/booking"
	"github.com/vocaline/intake/internal/motive"
	"github.com/vocaline/intake/internal/observe"
	"github.com/vocaline/intake/internal/phonetic"
	"github.com/vocaline/intake/internal/reconcile"
	"github.com/vocaline/intake/internal/resilience"
	"github.com/vocaline/intake/internal/turn"
	"github.com/vocaline/intake/internal/validate"
	"github.com/vocaline/intake/pkg/types"
)

// ErrCallAborted is returned by Run when the call ends without a booking:
// hangup, explicit cancellation, escalation, or a collaborator outage. The
// wrapped cause says which.
var ErrCallAborted = errors.New("dialogue: call aborted")

// errCancelled marks an explicit patient cancellation inside a step.
var errCancelled = errors.New("dialogue: patient cancelled")

// Booker is the appointment collaborator the machine drives.
// *booking.Orchestrator satisfies it.
type Booker interface {
	FindSlots(ctx context.Context, motiveID string, constraints types.SlotConstraints) ([]types.AvailabilitySlot, error)
	Book(ctx context.Context, req types.BookingRequest) (types.BookingConfirmation, error)
}

// Machine runs one booking conversation. It owns its ConversationState for
// the lifetime of the call; turns are strictly sequential, so nothing here
// is safe for concurrent use. The machine, not the phrasing model, is the
// source of truth for what has been confirmed.
type Machine struct {
	ex      turn.Exchanger
	motives *motive.Matcher
	booker  Booker
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	metrics *observe.Metrics

	cs         *ConversationState
	abortCause error

	// emitted retry/merge counts per field, so instrument updates carry
	// only the delta since the last observation.
	fieldRetries map[string]int
	fieldMerges  map[string]int
}

// NewMachine assembles a fresh conversation. The lexicon is shared read-only
// across sessions.
func NewMachine(ex turn.Exchanger, motives *motive.Matcher, booker Booker, lex *reconcile.Lexicon, cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Machine{
		ex:      ex,
		motives: motives,
		booker:  booker,
		cfg:     cfg,
		log:     logger.With("component", "dialogue"),
		now:     time.Now,
		cs: &ConversationState{
			State:     StateGreeting,
			FirstName: reconcile.NewField("first_name", lex, cfg.Field, logger),
			LastName:  reconcile.NewField("last_name", lex, cfg.Field, logger),
			Excluded:  make(map[uuid.UUID]bool),
		},
		fieldRetries: make(map[string]int),
		fieldMerges:  make(map[string]int),
	}
}

// WithClock overrides the machine's clock.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// WithMetrics attaches the dialogue instruments (turn latency, field retries,
// candidate merges, escalations). Without it the machine records nothing.
func (m *Machine) WithMetrics(met *observe.Metrics) *Machine {
	m.metrics = met
	return m
}

// Conversation exposes the machine's state for inspection.
func (m *Machine) Conversation() *ConversationState { return m.cs }

// Run drives the call to Complete or Aborted. Re-running a completed machine
// returns the stored confirmation without resubmitting anything.
func (m *Machine) Run(ctx context.Context) (types.BookingConfirmation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.BookingConfirmation{}, err
		}

		var err error
		switch m.cs.State {
		case StateGreeting:
			err = m.stepGreeting(ctx)
		case StateCollectFirstName:
			err = m.stepCollectName(ctx, m.cs.FirstName, "Quel est votre prénom ?", StateCollectLastName)
		case StateCollectLastName:
			err = m.stepCollectName(ctx, m.cs.LastName, "Quel est votre nom de famille ?", StateCollectBirthdate)
		case StateCollectBirthdate:
			err = m.stepCollectBirthdate(ctx)
		case StateConfirmIdentity:
			err = m.stepConfirmIdentity(ctx)
		case StateCollectMotive:
			err = m.stepCollectMotive(ctx)
		case StateFindAvailability:
			err = m.stepFindAvailability(ctx)
		case StatePresentSlots:
			err = m.stepPresentSlots(ctx)
		case StateConfirmBooking:
			err = m.stepConfirmBooking(ctx)
		case StateComplete:
			return *m.cs.Confirmation, nil
		case StateAborted:
			return types.BookingConfirmation{}, m.abortCause
		}

		if err != nil {
			m.abort(ctx, err)
		}
	}
}

// abort routes a step failure to the Aborted terminal with a spoken
// termination message where the channel still allows one.
func (m *Machine) abort(ctx context.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		m.abortCause = err
	case errors.Is(err, errCancelled):
		m.say(ctx, "Très bien, j'annule la demande. Au revoir.")
		m.abortCause = fmt.Errorf("%w: %v", ErrCallAborted, err)
	case errors.Is(err, turn.ErrHangup):
		m.abortCause = fmt.Errorf("%w: %v", ErrCallAborted, err)
	case errors.Is(err, turn.ErrSilence):
		m.say(ctx, "Je n'entends plus personne, je vais raccrocher. Au revoir.")
		m.abortCause = fmt.Errorf("%w: %v", ErrCallAborted, err)
	default:
		// Escalations and outages speak their own apology in the step.
		m.abortCause = fmt.Errorf("%w: %v", ErrCallAborted, err)
	}
	m.log.Warn("call aborted", "state", m.cs.State, "cause", err)
	m.cs.State = StateAborted
}

// say delivers a prompt, tolerating channel loss: a failed Say surfaces on
// the next Listen as a hangup.
func (m *Machine) say(ctx context.Context, prompt string) {
	if err := m.ex.Say(ctx, prompt); err != nil {
		m.log.Warn("say failed", "err", err)
	}
}

// listen waits for the next utterance. Silence re-prompts without touching
// field state, up to the configured budget; explicit cancellation words stop
// the call.
func (m *Machine) listen(ctx context.Context, reprompt string) (types.Utterance, error) {
	for {
		start := time.Now()
		utt, err := m.ex.Listen(ctx)
		switch {
		case err == nil:
			m.noteTurn(ctx, time.Since(start))
			m.cs.silentTurns = 0
			if isAbort(utt.Text) {
				return utt, errCancelled
			}
			return utt, nil
		case errors.Is(err, turn.ErrSilence):
			m.cs.silentTurns++
			if m.cs.silentTurns >= m.cfg.MaxSilentTurns {
				return utt, err
			}
			m.say(ctx, "Vous êtes toujours là ? "+reprompt)
		default:
			return utt, err
		}
	}
}

// noteTurn records the latency of one completed dialogue turn.
func (m *Machine) noteTurn(ctx context.Context, elapsed time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordTurn(ctx, elapsed.Seconds())
	}
}

// noteField emits the retry and merge counts a field accumulated since the
// previous observation. Called after every Observe or rejected Confirm.
func (m *Machine) noteField(ctx context.Context, f *reconcile.Field) {
	if m.metrics == nil {
		return
	}
	for m.fieldRetries[f.Name()] < f.Retries() {
		m.fieldRetries[f.Name()]++
		m.metrics.RecordFieldRetry(ctx, f.Name())
	}
	for m.fieldMerges[f.Name()] < f.Merges() {
		m.fieldMerges[f.Name()]++
		m.metrics.RecordCandidateMerge(ctx, f.Name())
	}
}

// noteRetry counts one failed collection round for a non-reconciled field.
func (m *Machine) noteRetry(ctx context.Context, field string) {
	if m.metrics != nil {
		m.metrics.RecordFieldRetry(ctx, field)
	}
}

// noteEscalation counts a field given up at the retry ceiling.
func (m *Machine) noteEscalation(ctx context.Context, field string) {
	if m.metrics != nil {
		m.metrics.RecordEscalation(ctx, field)
	}
}

func (m *Machine) retryCeiling() int {
	if m.cfg.Field.RetryCeiling > 0 {
		return m.cfg.Field.RetryCeiling
	}
	return 3
}

func (m *Machine) stepGreeting(ctx context.Context) error {
	m.say(ctx, "Bonjour, vous êtes bien au cabinet d'ophtalmologie. Je vais prendre quelques informations pour votre rendez-vous.")
	m.cs.State = StateCollectFirstName
	return nil
}

// stepCollectName runs one reconciliation field to confirmation. Already
// confirmed fields pass through, so a correction loop re-collects only the
// re-opened field.
func (m *Machine) stepCollectName(ctx context.Context, field *reconcile.Field, prompt string, next State) error {
	if field.Phase() == reconcile.PhaseConfirmed {
		m.cs.State = next
		return nil
	}

	m.say(ctx, prompt)
	utt, err := m.listen(ctx, prompt)
	if err != nil {
		return err
	}

	for {
		out := field.Observe(utt)
		m.noteField(ctx, field)
		switch {
		case out.Phase == reconcile.PhaseConfirmed:
			m.cs.State = next
			return nil

		case out.Phase == reconcile.PhaseEscalated:
			m.noteEscalation(ctx, field.Name())
			m.say(ctx, "Je suis désolée, je n'arrive pas à noter cela correctement. Un membre de l'équipe va vous rappeler. Au revoir.")
			return reconcile.ErrLowConfidenceUnresolved

		case out.Phase == reconcile.PhasePending:
			confirm := fmt.Sprintf("J'ai noté %s, épelé %s. C'est bien ça ?", out.Proposal, field.Readback())
			m.say(ctx, confirm)
			ans, err := m.listen(ctx, confirm)
			if err != nil {
				return err
			}
			switch {
			case isNo(ans.Text):
				after := field.Confirm(false)
				m.noteField(ctx, field)
				if after.Phase == reconcile.PhaseEscalated {
					m.noteEscalation(ctx, field.Name())
					m.say(ctx, "Je suis désolée, je n'arrive pas à noter cela correctement. Un membre de l'équipe va vous rappeler. Au revoir.")
					return reconcile.ErrLowConfidenceUnresolved
				}
				if after.AskSpelling {
					m.say(ctx, "D'accord. Pouvez-vous l'épeler lettre par lettre, s'il vous plaît ?")
				} else {
					m.say(ctx, "D'accord, reprenons. "+prompt)
				}
				utt, err = m.listen(ctx, prompt)
			case isYes(ans.Text):
				field.Confirm(true)
				m.cs.State = next
				return nil
			default:
				// Not a yes/no: treat it as a fresh attempt at the value.
				utt, err = ans, nil
			}
			if err != nil {
				return err
			}

		case out.Ambiguous():
			ask := fmt.Sprintf("J'ai entendu %s ou %s. Pouvez-vous épeler lettre par lettre ?", out.Options[0], out.Options[1])
			m.say(ctx, ask)
			utt, err = m.listen(ctx, ask)
			if err != nil {
				return err
			}

		case out.AskSpelling:
			ask := "Pouvez-vous l'épeler lettre par lettre, s'il vous plaît ?"
			m.say(ctx, ask)
			utt, err = m.listen(ctx, ask)
			if err != nil {
				return err
			}

		default:
			m.say(ctx, "Pouvez-vous répéter, s'il vous plaît ?")
			utt, err = m.listen(ctx, prompt)
			if err != nil {
				return err
			}
		}
	}
}

func (m *Machine) stepCollectBirthdate(ctx context.Context) error {
	if !m.cs.Birthdate.IsZero() {
		m.cs.State = StateConfirmIdentity
		return nil
	}

	prompt := "Quelle est votre date de naissance ?"
	m.say(ctx, prompt)
	utt, err := m.listen(ctx, prompt)
	if err != nil {
		return err
	}

	for {
		bd, parsed := validate.ParseBirthdate(utt.Text)
		var res validate.Result
		if parsed {
			res = validate.Birthdate(bd, m.now())
		}

		if !parsed || !res.OK {
			m.cs.BirthdateRetries++
			m.noteRetry(ctx, "birthdate")
			if m.cs.BirthdateRetries >= m.retryCeiling() {
				m.noteEscalation(ctx, "birthdate")
				m.say(ctx, "Je suis désolée, je n'arrive pas à noter votre date de naissance. Un membre de l'équipe va vous rappeler. Au revoir.")
				return reconcile.ErrLowConfidenceUnresolved
			}
			m.say(ctx, rejectionPrompt(parsed, res.Reason))
			if utt, err = m.listen(ctx, prompt); err != nil {
				return err
			}
			continue
		}

		confirm := fmt.Sprintf("Vous êtes né le %s. C'est bien ça ?", formatBirthdate(bd))
		m.say(ctx, confirm)
		ans, err := m.listen(ctx, confirm)
		if err != nil {
			return err
		}
		switch {
		case isNo(ans.Text):
			m.cs.BirthdateRetries++
			m.noteRetry(ctx, "birthdate")
			if m.cs.BirthdateRetries >= m.retryCeiling() {
				m.noteEscalation(ctx, "birthdate")
				m.say(ctx, "Je suis désolée, je n'arrive pas à noter votre date de naissance. Un membre de l'équipe va vous rappeler. Au revoir.")
				return reconcile.ErrLowConfidenceUnresolved
			}
			m.say(ctx, "D'accord, reprenons. "+prompt)
			if utt, err = m.listen(ctx, prompt); err != nil {
				return err
			}
		case isYes(ans.Text):
			m.cs.Birthdate = bd
			m.cs.State = StateConfirmIdentity
			return nil
		default:
			utt = ans
		}
	}
}

// rejectionPrompt turns a validation reason into the re-collection prompt.
// Validation never coerces: the patient restates, the machine never guesses.
func rejectionPrompt(parsed bool, reason validate.Reason) string {
	switch {
	case !parsed:
		return "Je n'ai pas compris la date. Pouvez-vous la redonner, par exemple « 12 mars 1985 » ?"
	case reason == validate.ReasonFutureDate:
		return "Cette date est dans le futur. Quelle est votre date de naissance ?"
	case reason == validate.ReasonImplausibleAge:
		return "Cette date ne semble pas plausible. Quelle est votre date de naissance ?"
	default:
		return "Cette date n'existe pas dans le calendrier. Pouvez-vous la redonner ?"
	}
}

func (m *Machine) stepConfirmIdentity(ctx context.Context) error {
	prompt := fmt.Sprintf("Récapitulons : %s %s, né le %s. Tout est correct ?",
		m.cs.FirstName.Value(), m.cs.LastName.Value(), formatBirthdate(m.cs.Birthdate))
	m.say(ctx, prompt)

	for attempts := 0; ; attempts++ {
		if attempts >= m.retryCeiling() {
			m.noteEscalation(ctx, "identity")
			m.say(ctx, "Je suis désolée, je ne parviens pas à vérifier vos informations. Un membre de l'équipe va vous rappeler. Au revoir.")
			return reconcile.ErrLowConfidenceUnresolved
		}
		ans, err := m.listen(ctx, prompt)
		if err != nil {
			return err
		}

		switch {
		case isNo(ans.Text):
			if target := correctionTarget(ans.Text); target != "" {
				m.reopen(target)
				return nil
			}
			ask := "Quelle information faut-il corriger : le prénom, le nom, ou la date de naissance ?"
			m.say(ctx, ask)
			which, err := m.listen(ctx, ask)
			if err != nil {
				return err
			}
			if target := correctionTarget(which.Text); target != "" {
				m.reopen(target)
				return nil
			}
			m.say(ctx, "Je n'ai pas compris. "+ask)
		case isYes(ans.Text):
			m.cs.State = StateCollectMotive
			return nil
		default:
			m.say(ctx, "Répondez par oui ou par non, s'il vous plaît. "+prompt)
		}
	}
}

// reopen invalidates exactly one identity field and routes back to its
// collection state. The other confirmed fields stay confirmed.
func (m *Machine) reopen(target string) {
	// Reopen resets a field's retry count, so the emitted-delta tracking
	// restarts from zero with it.
	m.fieldRetries[target] = 0
	switch target {
	case "first_name":
		m.cs.FirstName.Reopen()
		m.cs.State = StateCollectFirstName
	case "last_name":
		m.cs.LastName.Reopen()
		m.cs.State = StateCollectLastName
	case "birthdate":
		m.cs.Birthdate = types.Birthdate{}
		m.cs.BirthdateRetries = 0
		m.cs.State = StateCollectBirthdate
	}
	m.log.Info("identity field reopened", "field", target)
}

func (m *Machine) stepCollectMotive(ctx context.Context) error {
	prompt := "Quel est le motif de votre rendez-vous ?"
	m.say(ctx, prompt)

	for attempts := 0; ; {
		utt, err := m.listen(ctx, prompt)
		if err != nil {
			return err
		}

		sel, err := m.motives.Match(utt.Text)
		var amb *motive.AmbiguousError
		switch {
		case err == nil:
			m.cs.Motive = sel
			m.say(ctx, fmt.Sprintf("Très bien, %s.", sel.Name))
			m.cs.State = StateFindAvailability
			return nil

		case errors.As(err, &amb):
			attempts++
			if attempts >= m.retryCeiling() {
				return m.motiveGiveUp(ctx)
			}
			names := make([]string, len(amb.Options))
			for i, e := range amb.Options {
				names[i] = e.Name
			}
			m.say(ctx, fmt.Sprintf("Vouliez-vous dire %s ?", strings.Join(names, ", ou ")))

		default:
			attempts++
			if attempts >= m.retryCeiling() {
				return m.motiveGiveUp(ctx)
			}
			m.say(ctx, fmt.Sprintf("Voici les motifs possibles : %s. Lequel correspond à votre visite ?", m.motives.Enumerate()))
		}
	}
}

func (m *Machine) motiveGiveUp(ctx context.Context) error {
	m.noteEscalation(ctx, "motive")
	m.say(ctx, "Je suis désolée, je ne parviens pas à identifier le motif de votre visite. Un membre de l'équipe va vous rappeler. Au revoir.")
	return motive.ErrNoMatch
}

func (m *Machine) stepFindAvailability(ctx context.Context) error {
	constraints := types.SlotConstraints{Limit: m.cfg.PageSize * 4}
	if !m.cs.SearchFrom.IsZero() {
		constraints.From = m.cs.SearchFrom
		constraints.Until = m.cs.SearchFrom.AddDate(0, 0, m.cfg.SearchWindowDays)
	}

	slots, err := m.booker.FindSlots(ctx, m.cs.Motive.ID, constraints)
	if err != nil {
		if errors.Is(err, booking.ErrServiceUnavailable) {
			m.say(ctx, "Je suis désolée, notre service de disponibilités est momentanément indisponible. Merci de rappeler un peu plus tard. Au revoir.")
		}
		return err
	}

	m.cs.Slots = slots
	m.cs.PageOffset = 0
	if len(m.cs.offered()) > 0 {
		m.cs.State = StatePresentSlots
		return nil
	}
	return m.offerAlternatives(ctx)
}

// offerAlternatives handles an empty availability answer: the patient can
// shift the search window, change motive, or decline. The machine never
// fabricates a slot.
func (m *Machine) offerAlternatives(ctx context.Context) error {
	ask := fmt.Sprintf("Je n'ai trouvé aucune disponibilité pour %s sur cette période. Souhaitez-vous essayer une autre période, ou un autre motif ?", m.cs.Motive.Name)
	m.say(ctx, ask)

	for attempts := 0; attempts < m.retryCeiling(); attempts++ {
		ans, err := m.listen(ctx, ask)
		if err != nil {
			return err
		}
		folded := phonetic.Fold(ans.Text)
		switch {
		case strings.Contains(folded, "motif") || strings.Contains(folded, "motive") || strings.Contains(folded, "raison"):
			m.cs.Motive = types.MotiveSelection{}
			m.cs.State = StateCollectMotive
			return nil
		case strings.Contains(folded, "periode") || strings.Contains(folded, "date") ||
			strings.Contains(folded, "plus tard") || strings.Contains(folded, "semaine"):
			base := m.cs.SearchFrom
			if base.IsZero() {
				base = m.now()
			}
			m.cs.SearchFrom = base.AddDate(0, 0, m.cfg.SearchWindowDays)
			m.say(ctx, "Très bien, je regarde la période suivante.")
			return nil
		case isNo(ans.Text):
			m.say(ctx, "Je suis désolée de ne pas avoir pu vous aider. Au revoir.")
			return fmt.Errorf("no availability accepted: %w", errCancelled)
		default:
			m.say(ctx, ask)
		}
	}
	m.say(ctx, "Je suis désolée de ne pas avoir pu vous aider. Au revoir.")
	return fmt.Errorf("no availability accepted: %w", errCancelled)
}

func (m *Machine) stepPresentSlots(ctx context.Context) error {
	slots := m.cs.offered()
	if len(slots) == 0 {
		return m.offerAlternatives(ctx)
	}
	if m.cs.PageOffset >= len(slots) {
		m.cs.PageOffset = 0
		m.say(ctx, "Je n'ai plus d'autres créneaux, je reprends les premiers.")
	}
	page := slots[m.cs.PageOffset:min(m.cs.PageOffset+m.cfg.PageSize, len(slots))]

	prompt := fmt.Sprintf("Voici les créneaux disponibles : %s. Lequel vous convient ?", enumeratePage(page))
	m.say(ctx, prompt)

	for {
		ans, err := m.listen(ctx, prompt)
		if err != nil {
			return err
		}
		switch {
		case wantsMore(ans.Text):
			m.cs.PageOffset += m.cfg.PageSize
			return nil
		default:
			idx, ok := matchSlotByTime(ans.Text, page)
			if !ok {
				idx, ok = ordinalIndex(ans.Text)
			}
			if ok && idx < len(page) {
				chosen := page[idx]
				m.cs.Chosen = &chosen
				m.cs.State = StateConfirmBooking
				return nil
			}
			m.say(ctx, "Dites par exemple « le premier », redonnez l'horaire, ou demandez d'autres créneaux.")
		}
	}
}

func (m *Machine) stepConfirmBooking(ctx context.Context) error {
	slot := *m.cs.Chosen
	prompt := fmt.Sprintf("Je récapitule : %s %s, né le %s, pour %s, le %s. Je confirme le rendez-vous ?",
		m.cs.FirstName.Value(), m.cs.LastName.Value(), formatBirthdate(m.cs.Birthdate),
		m.cs.Motive.Name, formatSlot(slot))
	m.say(ctx, prompt)

	for {
		ans, err := m.listen(ctx, prompt)
		if err != nil {
			return err
		}
		switch {
		case isNo(ans.Text):
			m.cs.Chosen = nil
			m.cs.State = StatePresentSlots
			m.say(ctx, "D'accord, reprenons les créneaux.")
			return nil
		case isYes(ans.Text):
			return m.submit(ctx, slot)
		default:
			m.say(ctx, "Répondez par oui ou par non, s'il vous plaît.")
		}
	}
}

// submit builds the BookingRequest — only possible with every input
// confirmed — and submits it once. A conflict re-opens slot presentation
// with the failed slot excluded; a transport failure after the retry budget
// ends the call with a spoken apology, never a silent success.
func (m *Machine) submit(ctx context.Context, slot types.AvailabilitySlot) error {
	req, err := types.NewBookingRequest(m.cs.Identity(), m.cs.Motive, slot)
	if err != nil {
		return err
	}

	var conf types.BookingConfirmation
	var conflict error
	err = resilience.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		c, err := m.booker.Book(ctx, req)
		if err != nil {
			if errors.Is(err, booking.ErrSlotNoLongerAvailable) {
				conflict = err
				return nil
			}
			return err
		}
		conf = c
		return nil
	})

	switch {
	case err != nil:
		m.say(ctx, "Je suis désolée, je ne parviens pas à enregistrer le rendez-vous pour le moment. Merci de rappeler un peu plus tard. Au revoir.")
		return err
	case conflict != nil:
		m.cs.Excluded[slot.ID] = true
		m.cs.Chosen = nil
		m.cs.State = StatePresentSlots
		m.say(ctx, "Je suis désolée, ce créneau vient d'être pris. Reprenons les créneaux restants.")
		return nil
	}

	m.cs.Confirmation = &conf
	m.cs.State = StateComplete
	m.say(ctx, fmt.Sprintf("C'est noté ! Votre rendez-vous est confirmé le %s. À bientôt.", formatSlot(slot)))
	m.log.Info("conversation complete",
		"booking_id", conf.BookingID, "slot_id", slot.ID, "motive_id", m.cs.Motive.ID)
	return nil
}
