package extract

import "github.com/use-agent/serpcrawl/models"

// Prepare script outcomes. Any value other than PrepareNone means the
// page was changed and should be given time to settle.
const (
	PrepareNone           = "none"
	PrepareConsentClicked = "consent_clicked"
	PrepareVerbatim       = "verbatim_clicked"
)

const googlePrepareJS = `(verbatim) => {
	const body = document.body ? document.body.textContent : '';
	if (body.includes('Before you continue') || body.includes('Avant de continuer')) {
		const btn = document.querySelector('button[id*="accept"], button[id*="agree"], button[id*="L2AGLb"], form[action*="consent"] button');
		if (btn) { btn.click(); return 'consent_clicked'; }
	}
	if (!verbatim) return 'none';
	let link = document.querySelector('a.spell_orig') ||
		document.querySelector('a[href*="nfpr=1"]') ||
		document.querySelector('#fprsl');
	if (!link) {
		for (const a of document.querySelectorAll('a')) {
			if (a.textContent.includes('Search instead for')) { link = a; break; }
		}
	}
	if (link) { link.click(); return 'verbatim_clicked'; }
	return 'none';
}`

const bingPrepareJS = `() => {
	const btn = document.querySelector('#bnp_btn_accept, #bnp_container button');
	if (btn) { btn.click(); return 'consent_clicked'; }
	return 'none';
}`

// PrepareScript returns the consent and autocorrect handling script for
// engine, or "" when the engine needs none.
func PrepareScript(engine models.Engine, verbatim bool) string {
	switch engine {
	case models.EngineGoogle:
		v := "false"
		if verbatim {
			v = "true"
		}
		return "() => (" + googlePrepareJS + ")(" + v + ")"
	case models.EngineBing:
		return bingPrepareJS
	default:
		return ""
	}
}
