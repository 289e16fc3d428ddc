package silver

import "encoding/json"

// RawOffer mirrors one record of the search endpoint. Nested objects are
// pointers so an absent object can be told apart from an empty one.
type RawOffer struct {
	ID                          string              `json:"id"`
	Intitule                    string              `json:"intitule"`
	Description                 string              `json:"description"`
	DateCreation                string              `json:"dateCreation"`
	DateActualisation           string              `json:"dateActualisation"`
	RomeCode                    string              `json:"romeCode"`
	RomeLibelle                 string              `json:"romeLibelle"`
	AppellationLibelle          string              `json:"appellationlibelle"`
	TypeContrat                 string              `json:"typeContrat"`
	TypeContratLibelle          string              `json:"typeContratLibelle"`
	NatureContrat               string              `json:"natureContrat"`
	ExperienceExige             string              `json:"experienceExige"`
	ExperienceLibelle           string              `json:"experienceLibelle"`
	ExperienceCommentaire       string              `json:"experienceCommentaire"`
	DureeTravailLibelle         string              `json:"dureeTravailLibelle"`
	DureeTravailLibelleConverti string              `json:"dureeTravailLibelleConverti"`
	ComplementExercice          string              `json:"complementExercice"`
	Alternance                  bool                `json:"alternance"`
	NombrePostes                int                 `json:"nombrePostes"`
	AccessibleTH                bool                `json:"accessibleTH"`
	DeplacementCode             string              `json:"deplacementCode"`
	DeplacementLibelle          string              `json:"deplacementLibelle"`
	QualificationCode           string              `json:"qualificationCode"`
	QualificationLibelle        string              `json:"qualificationLibelle"`
	CodeNAF                     string              `json:"codeNAF"`
	SecteurActivite             string              `json:"secteurActivite"`
	SecteurActiviteLibelle      string              `json:"secteurActiviteLibelle"`
	TrancheEffectifEtab         string              `json:"trancheEffectifEtab"`
	OffresManqueCandidats       bool                `json:"offresManqueCandidats"`
	LieuTravail                 *RawLieuTravail     `json:"lieuTravail,omitempty"`
	Entreprise                  *RawEntreprise      `json:"entreprise,omitempty"`
	Salaire                     *RawSalaire         `json:"salaire,omitempty"`
	Competences                 []RawCompetence     `json:"competences,omitempty"`
	QualitesProfessionnelles    []RawQualite        `json:"qualitesProfessionnelles,omitempty"`
	Formations                  []RawFormation      `json:"formations,omitempty"`
	Permis                      []RawExigence       `json:"permis,omitempty"`
	Langues                     []RawExigence       `json:"langues,omitempty"`
	Contact                     *RawContact         `json:"contact,omitempty"`
	OrigineOffre                *RawOrigineOffre    `json:"origineOffre,omitempty"`
	ContexteTravail             *RawContexteTravail `json:"contexteTravail,omitempty"`
}

// rawEnvelope shadows every nested field of RawOffer with its undecoded
// bytes, so scalars decode in one pass and each relation decodes on its own.
type rawEnvelope struct {
	RawOffer
	LieuTravail              json.RawMessage `json:"lieuTravail"`
	Entreprise               json.RawMessage `json:"entreprise"`
	Salaire                  json.RawMessage `json:"salaire"`
	Competences              json.RawMessage `json:"competences"`
	QualitesProfessionnelles json.RawMessage `json:"qualitesProfessionnelles"`
	Formations               json.RawMessage `json:"formations"`
	Permis                   json.RawMessage `json:"permis"`
	Langues                  json.RawMessage `json:"langues"`
	Contact                  json.RawMessage `json:"contact"`
	OrigineOffre             json.RawMessage `json:"origineOffre"`
	ContexteTravail          json.RawMessage `json:"contexteTravail"`
}

// nested pairs each relation source with its raw bytes and decoder.
func (e *rawEnvelope) nested() []nestedField {
	r := &e.RawOffer
	return []nestedField{
		{"lieuTravail", e.LieuTravail, decodeInto(&r.LieuTravail)},
		{"entreprise", e.Entreprise, decodeInto(&r.Entreprise)},
		{"salaire", e.Salaire, decodeInto(&r.Salaire)},
		{"competences", e.Competences, decodeInto(&r.Competences)},
		{"qualitesProfessionnelles", e.QualitesProfessionnelles, decodeInto(&r.QualitesProfessionnelles)},
		{"formations", e.Formations, decodeInto(&r.Formations)},
		{"permis", e.Permis, decodeInto(&r.Permis)},
		{"langues", e.Langues, decodeInto(&r.Langues)},
		{"contact", e.Contact, decodeInto(&r.Contact)},
		{"origineOffre", e.OrigineOffre, decodeInto(&r.OrigineOffre)},
		{"contexteTravail", e.ContexteTravail, decodeInto(&r.ContexteTravail)},
	}
}

type nestedField struct {
	name   string
	raw    json.RawMessage
	decode func(json.RawMessage) error
}

// decodeInto assigns dst only when the whole value decodes.
func decodeInto[T any](dst *T) func(json.RawMessage) error {
	return func(b json.RawMessage) error {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

type RawLieuTravail struct {
	Libelle    string   `json:"libelle"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	CodePostal string   `json:"codePostal"`
	Commune    string   `json:"commune"`
}

type RawEntreprise struct {
	Nom               string `json:"nom"`
	Description       string `json:"description"`
	URL               string `json:"url"`
	EntrepriseAdaptee bool   `json:"entrepriseAdaptee"`
}

type RawSalaire struct {
	Libelle          string           `json:"libelle"`
	Commentaire      string           `json:"commentaire"`
	Complement1      string           `json:"complement1"`
	Complement2      string           `json:"complement2"`
	ListeComplements []RawCodeLibelle `json:"listeComplements,omitempty"`
}

type RawCodeLibelle struct {
	Code    string `json:"code"`
	Libelle string `json:"libelle"`
}

type RawCompetence struct {
	Code     string `json:"code"`
	Libelle  string `json:"libelle"`
	Exigence string `json:"exigence"`
}

type RawQualite struct {
	Libelle     string `json:"libelle"`
	Description string `json:"description"`
}

type RawFormation struct {
	CodeFormation  string `json:"codeFormation"`
	DomaineLibelle string `json:"domaineLibelle"`
	NiveauLibelle  string `json:"niveauLibelle"`
	Commentaire    string `json:"commentaire"`
	Exigence       string `json:"exigence"`
}

// RawExigence is a labelled requirement (permits, languages).
type RawExigence struct {
	Libelle  string `json:"libelle"`
	Exigence string `json:"exigence"`
}

type RawContact struct {
	Nom            string `json:"nom"`
	Coordonnees1   string `json:"coordonnees1"`
	Coordonnees2   string `json:"coordonnees2"`
	Coordonnees3   string `json:"coordonnees3"`
	Telephone      string `json:"telephone"`
	Courriel       string `json:"courriel"`
	Commentaire    string `json:"commentaire"`
	URLRecruteur   string `json:"urlRecruteur"`
	URLPostulation string `json:"urlPostulation"`
}

type RawOrigineOffre struct {
	Origine     string          `json:"origine"`
	URLOrigine  string          `json:"urlOrigine"`
	Partenaires []RawPartenaire `json:"partenaires,omitempty"`
}

type RawPartenaire struct {
	Nom  string `json:"nom"`
	URL  string `json:"url"`
	Logo string `json:"logo"`
}

type RawContexteTravail struct {
	Horaires           []string `json:"horaires,omitempty"`
	ConditionsExercice []string `json:"conditionsExercice,omitempty"`
}
