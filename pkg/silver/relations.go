package silver

// Relation describes one output table: its name, its columns in order and how
// to read its rows from Tables. Both sinks are driven by Relations.
type Relation struct {
	Name    string
	Columns []string
	len     func(t *Tables) int
	row     func(t *Tables, i int) []any
}

// Rows returns the values of every row of the relation.
func (r Relation) Rows(t *Tables) [][]any {
	n := r.len(t)
	out := make([][]any, n)
	for i := 0; i < n; i++ {
		out[i] = r.row(t, i)
	}
	return out
}

// Len returns the number of rows of the relation in t.
func (r Relation) Len(t *Tables) int {
	return r.len(t)
}

// Relations lists all thirteen relations, parent first.
var Relations = []Relation{
	{
		Name: "offers",
		Columns: []string{
			"id", "intitule", "description", "date_creation", "date_actualisation",
			"rome_code", "rome_libelle", "appellation_libelle", "type_contrat",
			"type_contrat_libelle", "nature_contrat", "experience_exige", "experience_libelle",
			"experience_commentaire", "duree_travail_libelle", "duree_travail_libelle_converti",
			"complement_exercice", "alternance", "nombre_postes", "accessible_th",
			"deplacement_code", "deplacement_libelle", "qualification_code",
			"qualification_libelle", "code_naf", "secteur_activite", "secteur_activite_libelle",
			"tranche_effectif_etab", "offres_manque_candidats",
		},
		len: func(t *Tables) int { return len(t.Offers) },
		row: func(t *Tables, i int) []any {
			o := t.Offers[i]
			return []any{
				o.ID, o.Intitule, o.Description, o.DateCreation, o.DateActualisation,
				o.RomeCode, o.RomeLibelle, o.AppellationLibelle, o.TypeContrat,
				o.TypeContratLibelle, o.NatureContrat, o.ExperienceExige, o.ExperienceLibelle,
				o.ExperienceCommentaire, o.DureeTravailLibelle, o.DureeTravailLibelleConverti,
				o.ComplementExercice, o.Alternance, o.NombrePostes, o.AccessibleTH,
				o.DeplacementCode, o.DeplacementLibelle, o.QualificationCode,
				o.QualificationLibelle, o.CodeNAF, o.SecteurActivite, o.SecteurActiviteLibelle,
				o.TrancheEffectifEtab, o.OffresManqueCandidats,
			}
		},
	},
	{
		Name:    "offer_locations",
		Columns: []string{"offer_id", "libelle", "latitude", "longitude", "code_postal", "commune"},
		len:     func(t *Tables) int { return len(t.Locations) },
		row: func(t *Tables, i int) []any {
			r := t.Locations[i]
			return []any{r.OfferID, r.Libelle, r.Latitude, r.Longitude, r.CodePostal, r.Commune}
		},
	},
	{
		Name:    "offer_companies",
		Columns: []string{"offer_id", "nom", "description", "url", "entreprise_adaptee"},
		len:     func(t *Tables) int { return len(t.Companies) },
		row: func(t *Tables, i int) []any {
			r := t.Companies[i]
			return []any{r.OfferID, r.Nom, r.Description, r.URL, r.EntrepriseAdaptee}
		},
	},
	{
		Name:    "offer_salaries",
		Columns: []string{"offer_id", "libelle", "commentaire", "complement1", "complement2"},
		len:     func(t *Tables) int { return len(t.Salaries) },
		row: func(t *Tables, i int) []any {
			r := t.Salaries[i]
			return []any{r.OfferID, r.Libelle, r.Commentaire, r.Complement1, r.Complement2}
		},
	},
	{
		Name:    "offer_salary_components",
		Columns: []string{"offer_id", "ordinal", "code", "libelle"},
		len:     func(t *Tables) int { return len(t.SalaryComponents) },
		row: func(t *Tables, i int) []any {
			r := t.SalaryComponents[i]
			return []any{r.OfferID, r.Ordinal, r.Code, r.Libelle}
		},
	},
	{
		Name:    "offer_skills",
		Columns: []string{"offer_id", "ordinal", "code", "libelle", "exigence"},
		len:     func(t *Tables) int { return len(t.Skills) },
		row: func(t *Tables, i int) []any {
			r := t.Skills[i]
			return []any{r.OfferID, r.Ordinal, r.Code, r.Libelle, r.Exigence}
		},
	},
	{
		Name:    "offer_soft_qualities",
		Columns: []string{"offer_id", "ordinal", "libelle", "description"},
		len:     func(t *Tables) int { return len(t.SoftQualities) },
		row: func(t *Tables, i int) []any {
			r := t.SoftQualities[i]
			return []any{r.OfferID, r.Ordinal, r.Libelle, r.Description}
		},
	},
	{
		Name:    "offer_formations",
		Columns: []string{"offer_id", "ordinal", "code_formation", "domaine_libelle", "niveau_libelle", "commentaire", "exigence"},
		len:     func(t *Tables) int { return len(t.Formations) },
		row: func(t *Tables, i int) []any {
			r := t.Formations[i]
			return []any{r.OfferID, r.Ordinal, r.CodeFormation, r.DomaineLibelle, r.NiveauLibelle, r.Commentaire, r.Exigence}
		},
	},
	{
		Name:    "offer_permits",
		Columns: []string{"offer_id", "ordinal", "libelle", "exigence"},
		len:     func(t *Tables) int { return len(t.Permits) },
		row: func(t *Tables, i int) []any {
			r := t.Permits[i]
			return []any{r.OfferID, r.Ordinal, r.Libelle, r.Exigence}
		},
	},
	{
		Name:    "offer_languages",
		Columns: []string{"offer_id", "ordinal", "libelle", "exigence"},
		len:     func(t *Tables) int { return len(t.Languages) },
		row: func(t *Tables, i int) []any {
			r := t.Languages[i]
			return []any{r.OfferID, r.Ordinal, r.Libelle, r.Exigence}
		},
	},
	{
		Name: "offer_contacts",
		Columns: []string{
			"offer_id", "nom", "coordonnees1", "coordonnees2", "coordonnees3",
			"telephone", "courriel", "commentaire", "url_recruteur", "url_postulation",
		},
		len: func(t *Tables) int { return len(t.Contacts) },
		row: func(t *Tables, i int) []any {
			r := t.Contacts[i]
			return []any{
				r.OfferID, r.Nom, r.Coordonnees1, r.Coordonnees2, r.Coordonnees3,
				r.Telephone, r.Courriel, r.Commentaire, r.URLRecruteur, r.URLPostulation,
			}
		},
	},
	{
		Name:    "offer_origins",
		Columns: []string{"offer_id", "origine", "url_origine", "partenaires"},
		len:     func(t *Tables) int { return len(t.Origins) },
		row: func(t *Tables, i int) []any {
			r := t.Origins[i]
			return []any{r.OfferID, r.Origine, r.URLOrigine, r.Partenaires}
		},
	},
	{
		Name:    "offer_work_schedules",
		Columns: []string{"offer_id", "ordinal", "horaire"},
		len:     func(t *Tables) int { return len(t.WorkSchedules) },
		row: func(t *Tables, i int) []any {
			r := t.WorkSchedules[i]
			return []any{r.OfferID, r.Ordinal, r.Horaire}
		},
	},
}

// RelationByName returns the relation called name.
func RelationByName(name string) (Relation, bool) {
	for _, r := range Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}
