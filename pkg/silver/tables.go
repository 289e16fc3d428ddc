package silver

// Offer is the primary relation: one row per offer.
type Offer struct {
	ID                          string
	Intitule                    string
	Description                 string
	DateCreation                string
	DateActualisation           string
	RomeCode                    string
	RomeLibelle                 string
	AppellationLibelle          string
	TypeContrat                 string
	TypeContratLibelle          string
	NatureContrat               string
	ExperienceExige             string
	ExperienceLibelle           string
	ExperienceCommentaire       string
	DureeTravailLibelle         string
	DureeTravailLibelleConverti string
	ComplementExercice          string
	Alternance                  bool
	NombrePostes                int
	AccessibleTH                bool
	DeplacementCode             string
	DeplacementLibelle          string
	QualificationCode           string
	QualificationLibelle        string
	CodeNAF                     string
	SecteurActivite             string
	SecteurActiviteLibelle      string
	TrancheEffectifEtab         string
	OffresManqueCandidats       bool
}

// Location is 0..1 per offer.
type Location struct {
	OfferID    string
	Libelle    string
	Latitude   *float64
	Longitude  *float64
	CodePostal string
	Commune    string
}

// Company is 0..1 per offer.
type Company struct {
	OfferID           string
	Nom               string
	Description       string
	URL               string
	EntrepriseAdaptee bool
}

// Salary is 0..1 per offer.
type Salary struct {
	OfferID     string
	Libelle     string
	Commentaire string
	Complement1 string
	Complement2 string
}

// SalaryComponent is 0..N per offer.
type SalaryComponent struct {
	OfferID string
	Ordinal int
	Code    string
	Libelle string
}

// Skill is 0..N per offer.
type Skill struct {
	OfferID  string
	Ordinal  int
	Code     string
	Libelle  string
	Exigence string
}

// SoftQuality is 0..N per offer.
type SoftQuality struct {
	OfferID     string
	Ordinal     int
	Libelle     string
	Description string
}

// Formation is 0..N per offer.
type Formation struct {
	OfferID        string
	Ordinal        int
	CodeFormation  string
	DomaineLibelle string
	NiveauLibelle  string
	Commentaire    string
	Exigence       string
}

// Permit is 0..N per offer.
type Permit struct {
	OfferID  string
	Ordinal  int
	Libelle  string
	Exigence string
}

// Language is 0..N per offer.
type Language struct {
	OfferID  string
	Ordinal  int
	Libelle  string
	Exigence string
}

// Contact is 0..1 per offer.
type Contact struct {
	OfferID        string
	Nom            string
	Coordonnees1   string
	Coordonnees2   string
	Coordonnees3   string
	Telephone      string
	Courriel       string
	Commentaire    string
	URLRecruteur   string
	URLPostulation string
}

// Origin is 0..1 per offer. Partenaires holds a JSON array.
type Origin struct {
	OfferID     string
	Origine     string
	URLOrigine  string
	Partenaires string
}

// WorkSchedule is 0..N per offer.
type WorkSchedule struct {
	OfferID string
	Ordinal int
	Horaire string
}

// Skipped records a source record, or one relation of it, that produced no
// rows. Relation is empty when the whole record was dropped.
type Skipped struct {
	Index    int
	ID       string
	Relation string
	Reason   string
}

// Tables is the normalized form of one snapshot. Every slice is ordered by
// offer id, then ordinal.
type Tables struct {
	Date             string
	Offers           []Offer
	Locations        []Location
	Companies        []Company
	Salaries         []Salary
	SalaryComponents []SalaryComponent
	Skills           []Skill
	SoftQualities    []SoftQuality
	Formations       []Formation
	Permits          []Permit
	Languages        []Language
	Contacts         []Contact
	Origins          []Origin
	WorkSchedules    []WorkSchedule
	Skipped          []Skipped
}

// RowCount returns the number of rows across all relations.
func (t *Tables) RowCount() int {
	n := 0
	for _, rel := range Relations {
		n += rel.len(t)
	}
	return n
}
