package browser

import (
	"encoding/json"
	"fmt"
)

// fingerprintJS runs before any page script, after stealth.JS. It fills the
// gaps stealth leaves for headless Chromium: the platform must agree with the
// user agent, and the WebGL vendor must not say "Google SwiftShader".
const fingerprintJS = `(platform, language) => {
	const define = (obj, prop, value) => {
		try {
			Object.defineProperty(obj, prop, { get: () => value, configurable: true });
		} catch (e) {}
	};
	define(Navigator.prototype, 'webdriver', undefined);
	define(Navigator.prototype, 'platform', platform);
	define(Navigator.prototype, 'hardwareConcurrency', 4);
	define(Navigator.prototype, 'deviceMemory', 8);
	define(Navigator.prototype, 'languages', [language, language.split('-')[0]]);
	if (!window.chrome) {
		window.chrome = { runtime: {}, app: { isInstalled: false } };
	}
	const patch = (proto) => {
		if (!proto) return;
		const getParameter = proto.getParameter;
		proto.getParameter = function (p) {
			if (p === 37445) return 'Intel Inc.';
			if (p === 37446) return 'Intel Iris OpenGL Engine';
			return getParameter.call(this, p);
		};
	};
	patch(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
	patch(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);
}`

// fingerprintScript binds the profile into a self-invoking script suitable
// for Page.addScriptToEvaluateOnNewDocument.
func fingerprintScript(p Profile) string {
	platform, _ := json.Marshal(p.Platform)
	language, _ := json.Marshal("en-US")
	return fmt.Sprintf("(%s)(%s, %s);", fingerprintJS, platform, language)
}
