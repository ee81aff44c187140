package scanner

import (
	"regexp"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
)

// Keyword tables are matched as lower-case substrings. Portuguese terms come
// first, English second. Accented and unaccented spellings are both listed
// because users frequently drop diacritics.

var weaponTerms = []string{
	"arma de fogo", "armas de fogo", "revólver", "revolver", "pistola", "fuzil",
	"metralhadora", "munição", "municao", "granada", "explosivo", "coquetel molotov",
	"bomba caseira", "espingarda", "calibre 38",
	"firearm", "handgun", "pistol", "rifle", "machine gun", "ammunition", "grenade",
	"explosive", "molotov", "pipe bomb", "shotgun",
}

// violenceCriticalTerms escalate a violence detection to critical.
var violenceCriticalTerms = []string{
	"matar", "assassinar", "executar todos", "executar eles", "execução sumária",
	"linchar", "linchamento", "degolar", "fuzilar", "exterminar",
	"kill them", "kill all", "kill every", "murder", "execute them", "lynch",
	"slaughter", "exterminate",
}

// violenceHighTerms escalate a violence detection to high.
var violenceHighTerms = []string{
	"violência", "violencia", "atacar", "destruir", "agredir", "espancar",
	"quebrar tudo", "incendiar", "massacre", "invadir",
	"violence", "attack", "destroy", "beat up", "burn it down", "storm the",
}

// violenceGeneralTerms only count toward the distinct-term threshold.
var violenceGeneralTerms = []string{
	"briga", "porrada", "pancadaria", "sangue", "confronto", "tumulto", "vingança",
	"fight", "brawl", "blood", "revenge",
}

var illegalActivityTerms = []string{
	"drogas", "tráfico", "trafico", "cocaína", "cocaina", "maconha",
	"lavagem de dinheiro", "contrabando", "suborno", "propina", "falsificação",
	"falsificacao", "documento falso", "caixa dois",
	"drug dealing", "trafficking", "cocaine", "money laundering", "smuggling",
	"bribe", "counterfeit", "fake id",
}

var hateSpeechTerms = []string{
	"nazista", "nazismo", "supremacia branca", "raça inferior", "raca inferior",
	"limpeza étnica", "limpeza etnica", "morte aos", "fora nordestino",
	"heil hitler", "white power", "white supremacy", "inferior race",
	"ethnic cleansing", "death to all",
}

var misinformationTerms = []string{
	"fraude eleitoral", "urna fraudada", "urnas fraudadas", "eleição roubada",
	"eleicao roubada", "voto impresso já", "vacina mata", "plandemia",
	"election fraud", "stolen election", "rigged election", "plandemic",
}

// misinformationPatterns capture co-occurrence phrasing that a fixed term
// list misses, such as "a eleição foi uma fraude".
var misinformationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`elei[çc](ão|ao|ões|oes)\b.{0,40}\bfraud\w*`),
	regexp.MustCompile(`\bfraud\w*.{0,40}\belei[çc](ão|ao|ões|oes)`),
	regexp.MustCompile(`\burnas?\b.{0,30}\b(fraudad|manipulad|hackead|adulterad)\w*`),
	regexp.MustCompile(`\bvacinas?\b.{0,30}\b(mata|matam|chip|veneno|envenena)\w*`),
	regexp.MustCompile(`\belections?\b.{0,40}\b(fraud|rigged|stolen)\w*`),
	regexp.MustCompile(`\b(rigged|stolen)\b.{0,20}\belections?\b`),
	regexp.MustCompile(`\bvaccines?\b.{0,30}\b(kill|microchip|poison)\w*`),
}

// categoryTerms wires the simple fixed-severity categories. Violence is
// handled separately because its severity depends on which terms matched.
var categoryTerms = map[models.Category][]string{
	models.CategoryWeapons:         weaponTerms,
	models.CategoryIllegalActivity: illegalActivityTerms,
	models.CategoryHateSpeech:      hateSpeechTerms,
	models.CategoryMisinformation:  misinformationTerms,
}

var fixedSeverity = map[models.Category]models.Severity{
	models.CategoryWeapons:         models.SeverityHigh,
	models.CategoryHateSpeech:      models.SeverityHigh,
	models.CategoryIllegalActivity: models.SeverityMedium,
	models.CategoryMisinformation:  models.SeverityMedium,
}
