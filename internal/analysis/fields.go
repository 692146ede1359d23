package analysis

import "finadvisor/backend/pkg/models"

// Field names a profile attribute the advisor wants filled in.
type Field string

const (
	FieldAge              Field = "age"
	FieldMonthlyExpenses  Field = "monthlyExpenses"
	FieldEmploymentType   Field = "employmentType"
	FieldEmergencyFund    Field = "emergencyFund"
	FieldLifeInsurance    Field = "lifeInsurance"
	FieldHealthInsurance  Field = "healthInsurance"
	FieldTaxRegime        Field = "taxRegime"
	FieldLiabilities      Field = "liabilities"
	FieldInvestments      Field = "investments"
	FieldPAN              Field = "pan"
	FieldIncomeVolatility Field = "incomeVolatility"
	FieldRealEstate       Field = "realEstate"
)

type fieldSpec struct {
	field    Field
	critical bool
	question string
	present  func(u models.User) bool
}

// fieldPriority is the fixed ask order. The first three are critical.
var fieldPriority = []fieldSpec{
	{FieldAge, true, "What is your age? It drives retirement and insurance calculations.",
		func(u models.User) bool { return u.Age > 0 }},
	{FieldMonthlyExpenses, true, "What are your average monthly expenses? They size your emergency fund and savings analysis.",
		func(u models.User) bool { return u.Profile.MonthlyBurnRate > 0 }},
	{FieldEmploymentType, true, "What is your employment type: salaried, gig worker, business owner, student or retired?",
		func(u models.User) bool { return u.Profile.EmploymentType != "" }},
	{FieldEmergencyFund, false, "Do you have an emergency fund? If yes, how much?",
		func(u models.User) bool { return u.Profile.Assets.EmergencyFund > 0 }},
	{FieldLifeInsurance, false, "Do you have life insurance? If yes, what is the cover amount?",
		func(u models.User) bool { return u.Profile.Insurance.LifeCover > 0 }},
	{FieldHealthInsurance, false, "Do you have health insurance? If yes, what is the cover amount?",
		func(u models.User) bool { return u.Profile.Insurance.HealthCover > 0 }},
	{FieldTaxRegime, false, "Which tax regime do you file under, new or old?",
		func(u models.User) bool { return u.Profile.TaxDetails.Regime != "" }},
	{FieldLiabilities, false, "Do you have any loans (home, car, personal, credit card)?",
		func(u models.User) bool { return len(u.Profile.Liabilities) > 0 }},
	{FieldInvestments, false, "Do you hold any investments such as mutual funds, stocks or fixed deposits?",
		func(u models.User) bool { return u.Profile.Assets.Investments() > 0 }},
	{FieldPAN, false, "What is your PAN? It helps with ITR guidance.",
		func(u models.User) bool { return u.Profile.TaxDetails.PAN != "" }},
	{FieldIncomeVolatility, false, "Could you log a few months of income so we can gauge how steady it is?",
		func(u models.User) bool { return u.Profile.VolatilityScore != nil }},
	{FieldRealEstate, false, "Do you own any property? If yes, roughly what is it worth?",
		func(u models.User) bool { return u.Profile.Assets.RealEstate > 0 }},
}

// TrackedFieldCount is the denominator of the completeness score.
var TrackedFieldCount = len(fieldPriority)
