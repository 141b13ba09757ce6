package metax

// lexvoLanguages maps IETF language codes to the Lexvo URIs Metax uses as
// language reference data.
var lexvoLanguages = map[string]string{
	"ar": "http://lexvo.org/id/iso639-3/ara",
	"bg": "http://lexvo.org/id/iso639-3/bul",
	"cs": "http://lexvo.org/id/iso639-3/ces",
	"da": "http://lexvo.org/id/iso639-3/dan",
	"de": "http://lexvo.org/id/iso639-3/deu",
	"el": "http://lexvo.org/id/iso639-3/ell",
	"en": "http://lexvo.org/id/iso639-3/eng",
	"es": "http://lexvo.org/id/iso639-3/spa",
	"et": "http://lexvo.org/id/iso639-3/est",
	"fi": "http://lexvo.org/id/iso639-3/fin",
	"fr": "http://lexvo.org/id/iso639-3/fra",
	"he": "http://lexvo.org/id/iso639-3/heb",
	"hi": "http://lexvo.org/id/iso639-3/hin",
	"hu": "http://lexvo.org/id/iso639-3/hun",
	"is": "http://lexvo.org/id/iso639-3/isl",
	"it": "http://lexvo.org/id/iso639-3/ita",
	"ja": "http://lexvo.org/id/iso639-3/jpn",
	"ko": "http://lexvo.org/id/iso639-3/kor",
	"lt": "http://lexvo.org/id/iso639-3/lit",
	"lv": "http://lexvo.org/id/iso639-3/lav",
	"nl": "http://lexvo.org/id/iso639-3/nld",
	"no": "http://lexvo.org/id/iso639-3/nor",
	"pl": "http://lexvo.org/id/iso639-3/pol",
	"pt": "http://lexvo.org/id/iso639-3/por",
	"ro": "http://lexvo.org/id/iso639-3/ron",
	"ru": "http://lexvo.org/id/iso639-3/rus",
	"se": "http://lexvo.org/id/iso639-3/sme",
	"sk": "http://lexvo.org/id/iso639-3/slk",
	"sl": "http://lexvo.org/id/iso639-3/slv",
	"sv": "http://lexvo.org/id/iso639-3/swe",
	"tr": "http://lexvo.org/id/iso639-3/tur",
	"uk": "http://lexvo.org/id/iso639-3/ukr",
	"zh": "http://lexvo.org/id/iso639-3/zho",
}

// lexvoURL resolves an IETF language code, ignoring any region subtag.
func lexvoURL(code string) (string, bool) {
	if url, ok := lexvoLanguages[code]; ok {
		return url, true
	}
	// en-US and friends resolve through their primary subtag.
	if idx := len(code); idx > 2 && code[2] == '-' {
		url, ok := lexvoLanguages[code[:2]]
		return url, ok
	}
	return "", false
}
