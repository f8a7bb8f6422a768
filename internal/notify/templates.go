package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/hitoshi/lostfound/internal/model"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html><body style="font-family:sans-serif">
{{template "content" .}}
<p style="color:#888;font-size:12px">Campus Lost &amp; Found</p>
</body></html>{{end}}`

var contentTemplates = map[string]string{
	"matches_proposed": `{{define "content"}}
<p>Hello {{.Name}},</p>
<p>We found {{len .Matches}} possible match(es) for your lost items.</p>
<ul>{{range .Matches}}
<li><strong>{{.Lost.ItemName}}</strong>: {{.Found.ItemName}} found at {{.Found.FoundLocation}} on {{.Found.FoundDate.Format "2006-01-02"}} (confidence {{.Score}}%)
 <a href="{{$.BaseURL}}/lost-items/{{.Lost.ID}}">review</a></li>{{end}}
</ul>
{{end}}`,

	"match_confirmed": `{{define "content"}}
<p>Hello {{.Name}},</p>
<p>An administrator has matched your lost item <strong>{{.Lost.ItemName}}</strong> with a found item.</p>
<p>The item is held at: {{.Found.CurrentHoldingLocation}}</p>
<p><a href="{{.BaseURL}}/found-items/{{.Found.ID}}">Submit an ownership claim</a></p>
{{end}}`,

	"claim_submitted": `{{define "content"}}
<p>A new ownership claim was submitted for <strong>{{.Found.ItemName}}</strong> ({{.Found.Category}}).</p>
<p><a href="{{.BaseURL}}/admin/claims/{{.Claim.ID}}">Review the claim</a></p>
{{end}}`,

	"claim_processed": `{{define "content"}}
<p>Hello {{.Name}},</p>
{{if .Approved}}<p>Your claim for <strong>{{.Found.ItemName}}</strong> was approved. You can collect it at: {{.Found.CurrentHoldingLocation}}</p>
{{else}}<p>Your claim for <strong>{{.Found.ItemName}}</strong> was not approved.</p>{{end}}
{{with .Claim.AdminNotes}}<p>Notes: {{.}}</p>{{end}}
{{end}}`,
}

// ProposedMatch は自動提案通知に載せるマッチ1件。
type ProposedMatch struct {
	Lost  *model.LostItem
	Found *model.FoundItem
	Score int
}

// Templates は通知メールの本文を生成する。
type Templates struct {
	baseURL string
	sets    map[string]*template.Template
}

// NewTemplates は全テンプレートをパースしてTemplatesを生成する。
func NewTemplates(baseURL string) (*Templates, error) {
	t := &Templates{
		baseURL: strings.TrimRight(baseURL, "/"),
		sets:    make(map[string]*template.Template, len(contentTemplates)),
	}
	for name, body := range contentTemplates {
		set, err := template.New(name).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse layout: %w", err)
		}
		if _, err := set.Parse(body); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		t.sets[name] = set
	}
	return t, nil
}

// MustTemplates はNewTemplatesを呼び、失敗時はpanicする。テンプレートは固定文字列のため起動時の失敗のみを想定する。
func MustTemplates(baseURL string) *Templates {
	t, err := NewTemplates(baseURL)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Templates) render(name string, data map[string]any) (string, error) {
	data["BaseURL"] = t.baseURL
	var buf bytes.Buffer
	if err := t.sets[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// MatchesProposed は自動提案の通知を生成する。1人の届出者の新しいマッチをまとめて1通にする。
func (t *Templates) MatchesProposed(owner *model.User, matches []ProposedMatch) (Message, error) {
	if len(matches) == 0 {
		return Message{}, fmt.Errorf("no matches to notify")
	}
	html, err := t.render("matches_proposed", map[string]any{
		"Name": owner.Name, "Matches": matches,
	})
	if err != nil {
		return Message{}, err
	}
	subject := fmt.Sprintf("Possible match for your lost %s", displayName(matches[0].Lost.ItemName, matches[0].Lost.Category))
	if len(matches) > 1 {
		subject = fmt.Sprintf("%d possible matches for your lost items", len(matches))
	}
	return Message{To: owner.Email, Subject: subject, HTML: html}, nil
}

// MatchConfirmed は手動マッチ確定の通知を生成する。
func (t *Templates) MatchConfirmed(owner *model.User, lost *model.LostItem, found *model.FoundItem) (Message, error) {
	html, err := t.render("match_confirmed", map[string]any{
		"Name": owner.Name, "Lost": lost, "Found": found,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      owner.Email,
		Subject: fmt.Sprintf("Your lost %s may have been found", displayName(lost.ItemName, lost.Category)),
		HTML:    html,
	}, nil
}

// ClaimSubmitted は管理者向けの新規申請通知を生成する。
func (t *Templates) ClaimSubmitted(admin *model.User, claim *model.ClaimRequest, found *model.FoundItem) (Message, error) {
	html, err := t.render("claim_submitted", map[string]any{
		"Claim": claim, "Found": found,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      admin.Email,
		Subject: fmt.Sprintf("New claim for %s", displayName(found.ItemName, found.Category)),
		HTML:    html,
	}, nil
}

// ClaimProcessed は申請の審査結果の通知を生成する。
func (t *Templates) ClaimProcessed(claimant *model.User, claim *model.ClaimRequest, found *model.FoundItem) (Message, error) {
	approved := claim.Status == model.ClaimStatusApproved
	html, err := t.render("claim_processed", map[string]any{
		"Name": claimant.Name, "Claim": claim, "Found": found, "Approved": approved,
	})
	if err != nil {
		return Message{}, err
	}
	subject := "Your claim was not approved"
	if approved {
		subject = "Your claim was approved"
	}
	return Message{To: claimant.Email, Subject: subject, HTML: html}, nil
}

func displayName(name, category string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return strings.ToLower(category)
}
