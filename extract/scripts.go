package extract

// payloadVersion is the "v" field every SERP script returns. Bump it with
// any change to the payload shape.
const payloadVersion = 1

// The scripts return a plain object rather than a JSON string so the
// control protocol hands it back by value.

const bingSERPJS = `() => {
	const text = (el) => el ? el.textContent.replace(/\s+/g, ' ').trim() : '';
	const results = [];
	document.querySelectorAll('li.b_algo').forEach((block) => {
		const a = block.querySelector('h2 > a');
		if (!a || !a.href) return;
		const p = block.querySelector('.b_caption p') || block.querySelector('p');
		results.push({ title: text(a), link: a.href, snippet: text(p) });
	});
	const paa = Array.from(document.querySelectorAll('.b_ans [data-tag="RelatedQnA.Item"] .b_1linetrunc, .df_qntext')).map(text).filter(Boolean);
	const related = Array.from(document.querySelectorAll('.b_rs li a, #brsv3 a')).map(text).filter(Boolean);
	return {
		v: 1,
		results: results,
		people_also_ask: paa,
		related: related,
		total_results: text(document.querySelector('.sb_count')),
	};
}`

const googleSERPJS = `() => {
	const text = (el) => el ? el.textContent.replace(/\s+/g, ' ').trim() : '';
	const main = document.querySelector('[role="main"]') || document.querySelector('#main') || document.body;
	const results = [];
	const seen = new Set();
	main.querySelectorAll('[data-snf], .g, [jscontroller="SC7lYd"], .Gx5Zad').forEach((block) => {
		const title = block.querySelector('h3, [role="heading"]');
		const link = block.querySelector('a[href^="http"]:not([href*="google.com"])') || block.querySelector('a[jsname]');
		if (!title || !link || !link.href || link.href.includes('google.com/search') || seen.has(link.href)) return;
		seen.add(link.href);
		const snippet = block.querySelector('[data-content], [role="text"], .VwiC3b, .IsZvec, .yXK7lf');
		results.push({ title: text(title), link: link.href, snippet: text(snippet) });
	});
	const paa = Array.from(document.querySelectorAll('[jsname="Cpkphb"] [role="heading"], .related-question-pair [role="heading"]')).map(text).filter(Boolean);
	const related = Array.from(document.querySelectorAll('#bres a, .k8XOCe')).map(text).filter(Boolean);
	return {
		v: 1,
		results: results,
		people_also_ask: paa,
		related: related,
		total_results: text(document.querySelector('#result-stats')),
	};
}`
