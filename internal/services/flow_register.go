package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"studyline/internal/models"
	"studyline/internal/utils"
)

const (
	minNameLength     = 2
	minPasswordLength = 8
	minAge            = 5
	maxAge            = 100
	maxGrade          = 12
)

var codeRe = regexp.MustCompile(`^[0-9]{6}$`)

// ===== шаги регистрации =====

func (e *FlowEngine) rolePrompt() OutboundMessage {
	return e.composer.List("Who is this account for?", "Choose", "Roles",
		[]ListRow{
			{ID: "role_" + models.RoleStudent, Title: "Student", Description: "I'm here to learn"},
			{ID: "role_" + models.RoleParent, Title: "Parent", Description: "Managing a child's account"},
			{ID: "role_" + models.RoleTeacher, Title: "Teacher", Description: "I teach on Studyline"},
			{ID: "role_" + models.RoleFreelancer, Title: "Freelancer", Description: "Content and tutoring gigs"},
		})
}

func (e *FlowEngine) handleRegisterRole(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	role := strings.TrimPrefix(strings.ToLower(msg.Input()), "role_")
	switch role {
	case models.RoleStudent, models.RoleParent:
		data := rec.FlowData
		data.Role = role
		return e.advance(ctx, rec, models.StateRegisterName, data,
			e.composer.Text("Great! What's your full name?"))

	case models.RoleTeacher, models.RoleFreelancer:
		// сознательный тупик: эти роли требуют проверки документов,
		// которую чат провести не может.
		e.alerts.ManualVerificationRequested(rec.ContactID, role)
		if err := e.conversations.Reset(ctx, rec.ContactID); err != nil {
			return err
		}
		e.send(rec.ContactID, e.composer.Text("Teacher and freelancer accounts need document verification, so we can't finish them in chat. Our team will reach out to you — or write to partners@studyline.io."))
		return nil
	}
	return e.rejectInput(ctx, rec, e.rolePrompt())
}

func (e *FlowEngine) handleRegisterName(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	name := strings.TrimSpace(msg.Text)
	if msg.ReplyID != "" || utf8.RuneCountInString(name) < minNameLength {
		return e.rejectInput(ctx, rec, e.composer.Text("Please send your name (at least 2 characters)."))
	}
	data := rec.FlowData
	data.Name = name
	return e.advance(ctx, rec, models.StateRegisterEmail, data,
		e.composer.Text(fmt.Sprintf("Nice to meet you, %s! What's your email address?", name)))
}

func (e *FlowEngine) handleRegisterEmail(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	switch msg.Input() {
	case btnLogin:
		// развилка «такой email уже есть» → вход вместо регистрации
		return e.advance(ctx, rec, models.StateLoginIdentifier, models.FlowData{},
			e.composer.Text("Sure, let's sign you in. Send the email or phone number on your account."))
	case btnRetry:
		e.send(rec.ContactID, e.composer.Text("Okay, send another email address."))
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(msg.Text))
	if !utils.LooksLikeEmail(email) {
		return e.rejectInput(ctx, rec, e.composer.Text("That doesn't look like an email address. Try again, e.g. jane@example.com."))
	}

	// Дубликат ловим ДО сбора пароля, чтобы не спрашивать реквизиты,
	// которые потом выбросим.
	existing, err := e.accounts.FindByEmail(email)
	if err != nil {
		return err
	}
	if existing != nil {
		e.send(rec.ContactID, e.composer.Buttons(
			"An account with this email already exists. Do you want to sign in instead?",
			Button{ID: btnLogin, Title: "Sign in"},
			Button{ID: btnRetry, Title: "Other email"},
			Button{ID: btnCancel, Title: "Cancel"},
		))
		return nil
	}

	data := rec.FlowData
	data.Email = email
	return e.advance(ctx, rec, models.StateRegisterPassword, data,
		e.composer.Text("Choose a password (at least 8 characters)."))
}

func (e *FlowEngine) handleRegisterPassword(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	password := msg.Text
	if msg.ReplyID != "" || utf8.RuneCountInString(password) < minPasswordLength {
		return e.rejectInput(ctx, rec, e.composer.Text("The password must be at least 8 characters. Try another one."))
	}
	// plaintext живёт ровно до этой строки
	hash, err := e.accounts.HashPassword(password)
	if err != nil {
		return err
	}
	data := rec.FlowData
	data.PasswordHash = hash
	return e.advance(ctx, rec, models.StateRegisterContinent, data, e.continentPrompt())
}

func (e *FlowEngine) handleRegisterContinent(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	continent := resolveContinent(msg.Input())
	if continent == "" {
		return e.rejectInput(ctx, rec, e.continentPrompt())
	}
	data := rec.FlowData
	data.Continent = continent
	return e.advance(ctx, rec, models.StateRegisterCountry, data, e.countryPrompt(continent))
}

func (e *FlowEngine) handleRegisterCountry(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	country := resolveCountry(rec.FlowData.Continent, msg.Input())
	if country == "" {
		return e.rejectInput(ctx, rec, e.countryPrompt(rec.FlowData.Continent))
	}
	data := rec.FlowData
	data.Country = country

	prompt := "How old are you?"
	if data.Role == models.RoleParent {
		prompt = "How old is the student?"
	}
	return e.advance(ctx, rec, models.StateRegisterAge, data, e.composer.Text(prompt))
}

func (e *FlowEngine) handleRegisterAge(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	age, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if msg.ReplyID != "" || err != nil || age < minAge || age > maxAge {
		return e.rejectInput(ctx, rec, e.composer.Text(fmt.Sprintf("Please send an age as a number between %d and %d.", minAge, maxAge)))
	}
	data := rec.FlowData
	data.Age = age

	if data.Role == models.RoleStudent || data.Role == models.RoleParent {
		return e.advance(ctx, rec, models.StateRegisterGrade, data, e.gradePrompt())
	}
	return e.startEmailVerification(ctx, rec, data)
}

func (e *FlowEngine) handleRegisterGrade(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	grade, ok := parseGrade(msg.Input())
	if !ok {
		return e.rejectInput(ctx, rec, e.gradePrompt())
	}
	data := rec.FlowData
	data.Grade = grade
	return e.startEmailVerification(ctx, rec, data)
}

// startEmailVerification — последний шаг сбора данных позади: выдаём код
// на email. Никаких строк в identity store до верного кода.
func (e *FlowEngine) startEmailVerification(ctx context.Context, rec *models.ConversationRecord, data models.FlowData) error {
	reg := registrationFromFlow(rec.ContactID, data)
	err := e.registration.IssueSignupCode(ctx, reg)
	if err != nil && !errors.Is(err, ErrResendThrottled) {
		return err
	}

	prompt := fmt.Sprintf("We've sent a 6-digit code to %s. Send it here to finish.", data.Email)
	if errors.Is(err, ErrResendThrottled) {
		prompt = "You already have a code in your inbox. Send it here to finish."
	}
	return e.advance(ctx, rec, models.StateVerifyEmailCode, data,
		e.composer.Buttons(prompt,
			Button{ID: btnResend, Title: "Resend code"},
			Button{ID: btnCancel, Title: "Cancel"},
		))
}

func (e *FlowEngine) handleVerifyEmailCode(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	if msg.Input() == btnResend {
		reg := registrationFromFlow(rec.ContactID, rec.FlowData)
		if err := e.registration.IssueSignupCode(ctx, reg); err != nil {
			if errors.Is(err, ErrResendThrottled) {
				e.send(rec.ContactID, e.composer.Text("We've sent several codes already. Please wait a few minutes before requesting another."))
				return nil
			}
			return err
		}
		e.send(rec.ContactID, e.composer.Text("A fresh code is on its way."))
		return nil
	}

	code := msg.Input()
	if !codeRe.MatchString(code) {
		return e.rejectInput(ctx, rec, e.composer.Text("Send the 6-digit code from your email."))
	}

	reg := registrationFromFlow(rec.ContactID, rec.FlowData)
	acc, _, err := e.registration.Complete(ctx, reg.Email, code)
	switch {
	case err == nil:
		e.registration.AfterRegistration(ctx, reg, acc)
		if err := e.conversations.Reset(ctx, rec.ContactID); err != nil {
			return err
		}
		e.send(rec.ContactID, e.composer.Text(fmt.Sprintf("You're all set, %s! Your account is ready and this phone is linked to it. Welcome to Studyline 🎉", reg.Name)))
		return nil

	case errors.Is(err, ErrCodeInvalid):
		return e.rejectInput(ctx, rec, e.composer.Text("That code doesn't match. Double-check the email and try again."))

	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrTooManyAttempts):
		e.send(rec.ContactID, e.composer.Buttons(
			"That code is no longer valid. Request a new one?",
			Button{ID: btnResend, Title: "Resend code"},
			Button{ID: btnCancel, Title: "Cancel"},
		))
		return nil
	}
	return err
}

func registrationFromFlow(contactID string, data models.FlowData) *RegistrationPayload {
	return &RegistrationPayload{
		ContactID:    contactID,
		Role:         data.Role,
		Name:         data.Name,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		Continent:    data.Continent,
		Country:      data.Country,
		Age:          data.Age,
		Grade:        data.Grade,
	}
}

// ===== география =====

type geoOption struct {
	ID   string
	Name string
}

var continents = []geoOption{
	{"cont_africa", "Africa"},
	{"cont_asia", "Asia"},
	{"cont_europe", "Europe"},
	{"cont_north_america", "North America"},
	{"cont_south_america", "South America"},
	{"cont_oceania", "Oceania"},
}

var countriesByContinent = map[string][]geoOption{
	"Africa": {
		{"country_eg", "Egypt"}, {"country_ng", "Nigeria"}, {"country_ke", "Kenya"},
		{"country_za", "South Africa"}, {"country_ma", "Morocco"}, {"country_gh", "Ghana"},
		{"country_tz", "Tanzania"}, {"country_et", "Ethiopia"},
	},
	"Asia": {
		{"country_kz", "Kazakhstan"}, {"country_in", "India"}, {"country_cn", "China"},
		{"country_jp", "Japan"}, {"country_kr", "South Korea"}, {"country_id", "Indonesia"},
		{"country_ph", "Philippines"}, {"country_uz", "Uzbekistan"}, {"country_tr", "Turkey"},
		{"country_sa", "Saudi Arabia"},
	},
	"Europe": {
		{"country_gb", "United Kingdom"}, {"country_de", "Germany"}, {"country_fr", "France"},
		{"country_es", "Spain"}, {"country_it", "Italy"}, {"country_pl", "Poland"},
		{"country_ua", "Ukraine"}, {"country_nl", "Netherlands"}, {"country_pt", "Portugal"},
		{"country_se", "Sweden"},
	},
	"North America": {
		{"country_us", "United States"}, {"country_ca", "Canada"}, {"country_mx", "Mexico"},
		{"country_gt", "Guatemala"}, {"country_cu", "Cuba"}, {"country_do", "Dominican Republic"},
	},
	"South America": {
		{"country_br", "Brazil"}, {"country_ar", "Argentina"}, {"country_co", "Colombia"},
		{"country_cl", "Chile"}, {"country_pe", "Peru"}, {"country_ec", "Ecuador"},
		{"country_uy", "Uruguay"}, {"country_bo", "Bolivia"},
	},
	"Oceania": {
		{"country_au", "Australia"}, {"country_nz", "New Zealand"}, {"country_fj", "Fiji"},
		{"country_pg", "Papua New Guinea"},
	},
}

func (e *FlowEngine) continentPrompt() OutboundMessage {
	rows := make([]ListRow, 0, len(continents))
	for _, c := range continents {
		rows = append(rows, ListRow{ID: c.ID, Title: c.Name})
	}
	return e.composer.List("Where are you located?", "Choose", "Continents", rows)
}

func (e *FlowEngine) countryPrompt(continent string) OutboundMessage {
	opts := countriesByContinent[continent]
	rows := make([]ListRow, 0, len(opts))
	for _, c := range opts {
		rows = append(rows, ListRow{ID: c.ID, Title: c.Name})
	}
	return e.composer.List("And your country? Pick one or just type its name.", "Choose", continent, rows)
}

// resolveContinent — по id строки списка или свободному тексту.
func resolveContinent(input string) string {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, c := range continents {
		if in == c.ID || in == strings.ToLower(c.Name) {
			return c.Name
		}
	}
	return ""
}

// resolveCountry — то же самое, но в пределах выбранного континента.
func resolveCountry(continent, input string) string {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, c := range countriesByContinent[continent] {
		if in == c.ID || in == strings.ToLower(c.Name) {
			return c.Name
		}
	}
	return ""
}

func (e *FlowEngine) gradePrompt() OutboundMessage {
	rows := make([]ListRow, 0, maxListRows)
	for g := 1; g <= maxGrade; g++ {
		rows = append(rows, ListRow{ID: fmt.Sprintf("grade_%d", g), Title: fmt.Sprintf("Grade %d", g)})
	}
	// в списке помещаются первые 10, старшие классы можно прислать числом
	return e.composer.List("Which grade? Pick from the list or send a number from 1 to 12.", "Choose", "Grades", rows)
}

func parseGrade(input string) (int, bool) {
	in := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(input)), "grade_")
	g, err := strconv.Atoi(in)
	if err != nil || g < 1 || g > maxGrade {
		return 0, false
	}
	return g, true
}
