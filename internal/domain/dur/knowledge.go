package dur

import (
	"sort"
	"strings"
)

// Drug classes known to the built-in knowledge base
const (
	ClassOpioid           = "opioid"
	ClassBenzodiazepine   = "benzodiazepine"
	ClassSSRI             = "ssri"
	ClassSNRI             = "snri"
	ClassMAOI             = "maoi"
	ClassNSAID            = "nsaid"
	ClassAnticoagulant    = "anticoagulant"
	ClassAntiplatelet     = "antiplatelet"
	ClassStatin           = "statin"
	ClassMacrolide        = "macrolide"
	ClassACEInhibitor     = "ace_inhibitor"
	ClassARB              = "arb"
	ClassPotassiumSparing = "potassium_sparing_diuretic"
	ClassNitrate          = "nitrate"
	ClassPDE5Inhibitor    = "pde5_inhibitor"
	ClassPenicillin       = "penicillin"
	ClassCephalosporin    = "cephalosporin"
	ClassSulfonamide      = "sulfonamide"
	ClassBetaBlocker      = "beta_blocker"
	ClassFluoroquinolone  = "fluoroquinolone"
	ClassTetracycline     = "tetracycline"
	ClassRetinoid         = "retinoid"
	ClassMetformin        = "biguanide"
	ClassAnticholinergic  = "anticholinergic"
	ClassTriptan          = "triptan"
	ClassAnalgesic        = "analgesic"
)

// drugClasses maps a lower-case ingredient to its classes
var drugClasses = map[string][]string{
	"oxycodone":        {ClassOpioid},
	"hydrocodone":      {ClassOpioid},
	"morphine":         {ClassOpioid},
	"hydromorphone":    {ClassOpioid},
	"fentanyl":         {ClassOpioid},
	"methadone":        {ClassOpioid},
	"codeine":          {ClassOpioid},
	"tramadol":         {ClassOpioid, ClassSNRI},
	"tapentadol":       {ClassOpioid},
	"alprazolam":       {ClassBenzodiazepine},
	"lorazepam":        {ClassBenzodiazepine},
	"diazepam":         {ClassBenzodiazepine},
	"clonazepam":       {ClassBenzodiazepine},
	"temazepam":        {ClassBenzodiazepine},
	"sertraline":       {ClassSSRI},
	"fluoxetine":       {ClassSSRI},
	"paroxetine":       {ClassSSRI, ClassAnticholinergic},
	"citalopram":       {ClassSSRI},
	"escitalopram":     {ClassSSRI},
	"venlafaxine":      {ClassSNRI},
	"duloxetine":       {ClassSNRI},
	"phenelzine":       {ClassMAOI},
	"tranylcypromine":  {ClassMAOI},
	"selegiline":       {ClassMAOI},
	"linezolid":        {ClassMAOI},
	"ibuprofen":        {ClassNSAID},
	"naproxen":         {ClassNSAID},
	"meloxicam":        {ClassNSAID},
	"diclofenac":       {ClassNSAID},
	"celecoxib":        {ClassNSAID},
	"ketorolac":        {ClassNSAID},
	"meperidine":       {ClassOpioid},
	"acetaminophen":    {ClassAnalgesic},
	"aspirin":          {ClassNSAID, ClassAntiplatelet},
	"clopidogrel":      {ClassAntiplatelet},
	"warfarin":         {ClassAnticoagulant},
	"apixaban":         {ClassAnticoagulant},
	"rivaroxaban":      {ClassAnticoagulant},
	"simvastatin":      {ClassStatin},
	"atorvastatin":     {ClassStatin},
	"rosuvastatin":     {ClassStatin},
	"lovastatin":       {ClassStatin},
	"clarithromycin":   {ClassMacrolide},
	"erythromycin":     {ClassMacrolide},
	"azithromycin":     {ClassMacrolide},
	"lisinopril":       {ClassACEInhibitor},
	"enalapril":        {ClassACEInhibitor},
	"ramipril":         {ClassACEInhibitor},
	"losartan":         {ClassARB},
	"valsartan":        {ClassARB},
	"spironolactone":   {ClassPotassiumSparing},
	"nitroglycerin":    {ClassNitrate},
	"isosorbide":       {ClassNitrate},
	"sildenafil":       {ClassPDE5Inhibitor},
	"tadalafil":        {ClassPDE5Inhibitor},
	"amoxicillin":      {ClassPenicillin},
	"penicillin":       {ClassPenicillin},
	"ampicillin":       {ClassPenicillin},
	"cephalexin":       {ClassCephalosporin},
	"cefdinir":         {ClassCephalosporin},
	"ceftriaxone":      {ClassCephalosporin},
	"sulfamethoxazole": {ClassSulfonamide},
	"metoprolol":       {ClassBetaBlocker},
	"propranolol":      {ClassBetaBlocker},
	"atenolol":         {ClassBetaBlocker},
	"ciprofloxacin":    {ClassFluoroquinolone},
	"levofloxacin":     {ClassFluoroquinolone},
	"doxycycline":      {ClassTetracycline},
	"tetracycline":     {ClassTetracycline},
	"isotretinoin":     {ClassRetinoid},
	"metformin":        {ClassMetformin},
	"diphenhydramine":  {ClassAnticholinergic},
	"oxybutynin":       {ClassAnticholinergic},
	"amitriptyline":    {ClassAnticholinergic},
	"sumatriptan":      {ClassTriptan},
	"rizatriptan":      {ClassTriptan},
}

// classIngredients is the ingredient list sorted longest first
var classIngredients = func() []string {
	keys := make([]string, 0, len(drugClasses))
	for k := range drugClasses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Classifier resolves drug names to ingredients and therapeutic classes.
// The terminology service implements it in production; StaticClassifier is the built-in table.
type Classifier interface {
	Classify(drug string) (ingredients []string, classes []string)
}

// StaticClassifier uses the built-in table. Combination products yield every
// ingredient they name.
type StaticClassifier struct{}

// Classify implements Classifier
func (StaticClassifier) Classify(drug string) ([]string, []string) {
	name := strings.ToLower(drug)
	var ingredients, classes []string
	seen := make(map[string]bool)
	for _, k := range classIngredients {
		if !strings.Contains(name, k) {
			continue
		}
		name = strings.ReplaceAll(name, k, " ")
		ingredients = append(ingredients, k)
		for _, c := range drugClasses[k] {
			if !seen[c] {
				seen[c] = true
				classes = append(classes, c)
			}
		}
	}
	return ingredients, classes
}

// classRule matches either an ingredient or a class
type classRule struct {
	ingredient string
	class      string
}

func (r classRule) matches(d drugInfo) bool {
	if r.ingredient != "" {
		return contains(d.ingredients, r.ingredient)
	}
	return contains(d.classes, r.class)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func byClass(c string) classRule      { return classRule{class: c} }
func byIngredient(i string) classRule { return classRule{ingredient: i} }

type interaction struct {
	a, b     classRule
	severity Severity
	message  string
}

var interactions = []interaction{
	{byIngredient("warfarin"), byClass(ClassNSAID), SeverityHigh, "Increased bleeding risk with warfarin and NSAIDs"},
	{byClass(ClassAnticoagulant), byClass(ClassAntiplatelet), SeverityHigh, "Additive bleeding risk with anticoagulant and antiplatelet therapy"},
	{byClass(ClassOpioid), byClass(ClassBenzodiazepine), SeverityHigh, "Concurrent opioid and benzodiazepine use risks respiratory depression"},
	{byClass(ClassSSRI), byClass(ClassMAOI), SeverityHigh, "Serotonin syndrome risk with SSRI and MAOI"},
	{byClass(ClassSNRI), byClass(ClassMAOI), SeverityHigh, "Serotonin syndrome risk with SNRI and MAOI"},
	{byClass(ClassPDE5Inhibitor), byClass(ClassNitrate), SeverityHigh, "Severe hypotension with PDE5 inhibitors and nitrates"},
	{byIngredient("simvastatin"), byIngredient("clarithromycin"), SeverityHigh, "Rhabdomyolysis risk with simvastatin and clarithromycin"},
	{byIngredient("simvastatin"), byIngredient("erythromycin"), SeverityHigh, "Rhabdomyolysis risk with simvastatin and erythromycin"},
	{byClass(ClassACEInhibitor), byClass(ClassPotassiumSparing), SeverityMedium, "Hyperkalemia risk with ACE inhibitor and potassium-sparing diuretic"},
	{byClass(ClassARB), byClass(ClassPotassiumSparing), SeverityMedium, "Hyperkalemia risk with ARB and potassium-sparing diuretic"},
	{byClass(ClassSSRI), byClass(ClassNSAID), SeverityMedium, "Increased GI bleeding risk with SSRI and NSAID"},
	{byClass(ClassSSRI), byClass(ClassTriptan), SeverityMedium, "Serotonin syndrome risk with SSRI and triptan"},
	{byIngredient("tramadol"), byClass(ClassSSRI), SeverityMedium, "Seizure and serotonin syndrome risk with tramadol and SSRI"},
	{byClass(ClassACEInhibitor), byClass(ClassNSAID), SeverityLow, "NSAIDs may reduce antihypertensive effect"},
	{byClass(ClassFluoroquinolone), byIngredient("warfarin"), SeverityMedium, "Fluoroquinolones may potentiate warfarin"},
}

// allergy cross-reactivity: allergy keyword -> classes it reacts with
type crossReactivity struct {
	classes  []string
	severity Severity
	message  string
}

var allergyRules = map[string][]crossReactivity{
	"penicillin": {
		{[]string{ClassPenicillin}, SeverityHigh, "Patient is allergic to penicillins"},
		{[]string{ClassCephalosporin}, SeverityMedium, "Possible penicillin/cephalosporin cross-sensitivity"},
	},
	"cephalosporin": {
		{[]string{ClassCephalosporin}, SeverityHigh, "Patient is allergic to cephalosporins"},
		{[]string{ClassPenicillin}, SeverityMedium, "Possible cephalosporin/penicillin cross-sensitivity"},
	},
	"sulfa": {
		{[]string{ClassSulfonamide}, SeverityHigh, "Patient is allergic to sulfonamides"},
	},
	"nsaid": {
		{[]string{ClassNSAID}, SeverityHigh, "Patient is allergic to NSAIDs"},
	},
	"aspirin": {
		{[]string{ClassNSAID}, SeverityHigh, "Aspirin allergy cross-reacts with NSAIDs"},
	},
	"opioid": {
		{[]string{ClassOpioid}, SeverityHigh, "Patient is allergic to opioids"},
	},
	"codeine": {
		{[]string{ClassOpioid}, SeverityMedium, "Codeine allergy; other opioids may cross-react"},
	},
	"statin": {
		{[]string{ClassStatin}, SeverityHigh, "Patient is allergic to statins"},
	},
}

var allergyKeywords = func() []string {
	keys := make([]string, 0, len(allergyRules))
	for k := range allergyRules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

// contraindications: condition keyword -> offending classes
type contraindication struct {
	condition string
	rule      classRule
	severity  Severity
	message   string
}

var contraindications = []contraindication{
	{"asthma", byClass(ClassBetaBlocker), SeverityMedium, "Non-selective beta blockers may trigger bronchospasm in asthma"},
	{"asthma", byClass(ClassNSAID), SeverityMedium, "NSAIDs may worsen aspirin-sensitive asthma"},
	{"renal", byClass(ClassNSAID), SeverityHigh, "NSAIDs are contraindicated in renal impairment"},
	{"kidney", byClass(ClassNSAID), SeverityHigh, "NSAIDs are contraindicated in kidney disease"},
	{"renal", byClass(ClassMetformin), SeverityHigh, "Metformin is contraindicated in severe renal impairment"},
	{"ulcer", byClass(ClassNSAID), SeverityHigh, "NSAIDs are contraindicated with active peptic ulcer"},
	{"gi bleed", byClass(ClassAnticoagulant), SeverityHigh, "Anticoagulants are contraindicated with active GI bleeding"},
	{"heart failure", byClass(ClassNSAID), SeverityMedium, "NSAIDs can worsen heart failure"},
	{"liver", byClass(ClassStatin), SeverityMedium, "Statins require caution in active liver disease"},
	{"hepatic", byIngredient("acetaminophen"), SeverityMedium, "Acetaminophen requires dose limits in hepatic impairment"},
	{"glaucoma", byClass(ClassAnticholinergic), SeverityMedium, "Anticholinergics may worsen narrow-angle glaucoma"},
	{"respiratory depression", byClass(ClassOpioid), SeverityHigh, "Opioids are contraindicated with significant respiratory depression"},
}

// pregnancy contraindicated classes
var pregnancyRules = []contraindication{
	{"pregnancy", byClass(ClassStatin), SeverityHigh, "Statins are contraindicated in pregnancy"},
	{"pregnancy", byClass(ClassRetinoid), SeverityHigh, "Isotretinoin is contraindicated in pregnancy"},
	{"pregnancy", byIngredient("warfarin"), SeverityHigh, "Warfarin is contraindicated in pregnancy"},
	{"pregnancy", byClass(ClassACEInhibitor), SeverityHigh, "ACE inhibitors are contraindicated in pregnancy"},
	{"pregnancy", byClass(ClassARB), SeverityHigh, "ARBs are contraindicated in pregnancy"},
	{"pregnancy", byClass(ClassTetracycline), SeverityMedium, "Tetracyclines should be avoided in pregnancy"},
	{"pregnancy", byClass(ClassFluoroquinolone), SeverityMedium, "Fluoroquinolones should be avoided in pregnancy"},
	{"pregnancy", byClass(ClassNSAID), SeverityMedium, "NSAIDs should be avoided in late pregnancy"},
}

type ageRule struct {
	minAge, maxAge int // inclusive; -1 for open
	rule           classRule
	severity       Severity
	message        string
}

var ageRules = []ageRule{
	{-1, 11, byIngredient("codeine"), SeverityHigh, "Codeine is contraindicated under 12 years"},
	{-1, 11, byIngredient("tramadol"), SeverityHigh, "Tramadol is contraindicated under 12 years"},
	{-1, 15, byIngredient("aspirin"), SeverityHigh, "Aspirin under 16 years risks Reye's syndrome"},
	{-1, 7, byClass(ClassTetracycline), SeverityMedium, "Tetracyclines stain developing teeth under 8 years"},
	{-1, 17, byClass(ClassFluoroquinolone), SeverityMedium, "Fluoroquinolones are generally avoided under 18"},
	{65, -1, byClass(ClassBenzodiazepine), SeverityMedium, "Beers criteria: benzodiazepines increase fall risk in older adults"},
	{65, -1, byClass(ClassAnticholinergic), SeverityMedium, "Beers criteria: strongly anticholinergic drug in older adult"},
	{65, -1, byIngredient("ketorolac"), SeverityHigh, "Beers criteria: avoid ketorolac in older adults"},
	{65, -1, byIngredient("meperidine"), SeverityHigh, "Beers criteria: avoid meperidine in older adults"},
}

func (r ageRule) applies(age int) bool {
	if r.minAge >= 0 && age < r.minAge {
		return false
	}
	if r.maxAge >= 0 && age > r.maxAge {
		return false
	}
	return true
}
