// Package silver decomposes raw offer records into thirteen typed relations
// and writes them to a relational or delimited-text sink.
package silver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/offer-pipeline/pkg/bronze"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transformRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_silver_records_total",
		Help: "Source records processed by the silver transform, by result",
	}, []string{"result"})
)

// Transform decomposes a snapshot into Tables. It is a pure function of its
// input: the same snapshot always yields identical tables. Records that cannot
// be decoded or carry no id are listed in Tables.Skipped; a later record with
// an id already seen is dropped. A nested field that fails to decode leaves
// its relation empty for that offer and is listed with its Relation set.
func Transform(snap *bronze.Snapshot) (*Tables, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}

	t := &Tables{Date: snap.Date}
	offers := make([]*RawOffer, 0, len(snap.Records))
	seen := make(map[string]struct{}, len(snap.Records))

	dropped, partial := 0, 0
	for i, rec := range snap.Records {
		var env rawEnvelope
		if err := json.Unmarshal(rec, &env); err != nil {
			t.Skipped = append(t.Skipped, Skipped{Index: i, ID: bronze.RecordID(rec), Reason: "decode: " + err.Error()})
			dropped++
			continue
		}
		raw := &env.RawOffer
		if strings.TrimSpace(raw.ID) == "" {
			t.Skipped = append(t.Skipped, Skipped{Index: i, Reason: "missing id"})
			dropped++
			continue
		}
		if _, dup := seen[raw.ID]; dup {
			t.Skipped = append(t.Skipped, Skipped{Index: i, ID: raw.ID, Reason: "duplicate id"})
			dropped++
			continue
		}
		seen[raw.ID] = struct{}{}

		// A malformed nested object only costs the rows of its own relation.
		for _, f := range env.nested() {
			if len(f.raw) == 0 {
				continue
			}
			if err := f.decode(f.raw); err != nil {
				t.Skipped = append(t.Skipped, Skipped{Index: i, ID: raw.ID, Relation: f.name, Reason: "decode: " + err.Error()})
				partial++
			}
		}
		offers = append(offers, raw)
	}

	sort.Slice(offers, func(a, b int) bool { return offers[a].ID < offers[b].ID })

	for _, raw := range offers {
		t.add(raw)
	}

	transformRecordsTotal.WithLabelValues("transformed").Add(float64(len(t.Offers)))
	transformRecordsTotal.WithLabelValues("skipped").Add(float64(dropped))
	transformRecordsTotal.WithLabelValues("partial").Add(float64(partial))

	return t, nil
}

func (t *Tables) add(r *RawOffer) {
	id := r.ID

	t.Offers = append(t.Offers, Offer{
		ID:                          id,
		Intitule:                    r.Intitule,
		Description:                 r.Description,
		DateCreation:                r.DateCreation,
		DateActualisation:           r.DateActualisation,
		RomeCode:                    r.RomeCode,
		RomeLibelle:                 r.RomeLibelle,
		AppellationLibelle:          r.AppellationLibelle,
		TypeContrat:                 r.TypeContrat,
		TypeContratLibelle:          r.TypeContratLibelle,
		NatureContrat:               r.NatureContrat,
		ExperienceExige:             r.ExperienceExige,
		ExperienceLibelle:           r.ExperienceLibelle,
		ExperienceCommentaire:       r.ExperienceCommentaire,
		DureeTravailLibelle:         r.DureeTravailLibelle,
		DureeTravailLibelleConverti: r.DureeTravailLibelleConverti,
		ComplementExercice:          r.ComplementExercice,
		Alternance:                  r.Alternance,
		NombrePostes:                r.NombrePostes,
		AccessibleTH:                r.AccessibleTH,
		DeplacementCode:             r.DeplacementCode,
		DeplacementLibelle:          r.DeplacementLibelle,
		QualificationCode:           r.QualificationCode,
		QualificationLibelle:        r.QualificationLibelle,
		CodeNAF:                     r.CodeNAF,
		SecteurActivite:             r.SecteurActivite,
		SecteurActiviteLibelle:      r.SecteurActiviteLibelle,
		TrancheEffectifEtab:         r.TrancheEffectifEtab,
		OffresManqueCandidats:       r.OffresManqueCandidats,
	})

	if l := r.LieuTravail; l != nil && (!blank(l.Libelle, l.CodePostal, l.Commune) || l.Latitude != nil || l.Longitude != nil) {
		t.Locations = append(t.Locations, Location{
			OfferID:    id,
			Libelle:    l.Libelle,
			Latitude:   l.Latitude,
			Longitude:  l.Longitude,
			CodePostal: l.CodePostal,
			Commune:    l.Commune,
		})
	}

	if e := r.Entreprise; e != nil && (!blank(e.Nom, e.Description, e.URL) || e.EntrepriseAdaptee) {
		t.Companies = append(t.Companies, Company{
			OfferID:           id,
			Nom:               e.Nom,
			Description:       e.Description,
			URL:               e.URL,
			EntrepriseAdaptee: e.EntrepriseAdaptee,
		})
	}

	if s := r.Salaire; s != nil {
		if !blank(s.Libelle, s.Commentaire, s.Complement1, s.Complement2) {
			t.Salaries = append(t.Salaries, Salary{
				OfferID:     id,
				Libelle:     s.Libelle,
				Commentaire: s.Commentaire,
				Complement1: s.Complement1,
				Complement2: s.Complement2,
			})
		}
		n := 0
		for _, c := range s.ListeComplements {
			if blank(c.Code, c.Libelle) {
				continue
			}
			t.SalaryComponents = append(t.SalaryComponents, SalaryComponent{OfferID: id, Ordinal: n, Code: c.Code, Libelle: c.Libelle})
			n++
		}
	}

	n := 0
	for _, c := range r.Competences {
		if blank(c.Code, c.Libelle) {
			continue
		}
		t.Skills = append(t.Skills, Skill{OfferID: id, Ordinal: n, Code: c.Code, Libelle: c.Libelle, Exigence: c.Exigence})
		n++
	}

	n = 0
	for _, q := range r.QualitesProfessionnelles {
		if blank(q.Libelle, q.Description) {
			continue
		}
		t.SoftQualities = append(t.SoftQualities, SoftQuality{OfferID: id, Ordinal: n, Libelle: q.Libelle, Description: q.Description})
		n++
	}

	n = 0
	for _, f := range r.Formations {
		if blank(f.CodeFormation, f.DomaineLibelle, f.NiveauLibelle, f.Commentaire) {
			continue
		}
		t.Formations = append(t.Formations, Formation{
			OfferID:        id,
			Ordinal:        n,
			CodeFormation:  f.CodeFormation,
			DomaineLibelle: f.DomaineLibelle,
			NiveauLibelle:  f.NiveauLibelle,
			Commentaire:    f.Commentaire,
			Exigence:       f.Exigence,
		})
		n++
	}

	n = 0
	for _, p := range r.Permis {
		if blank(p.Libelle) {
			continue
		}
		t.Permits = append(t.Permits, Permit{OfferID: id, Ordinal: n, Libelle: p.Libelle, Exigence: p.Exigence})
		n++
	}

	n = 0
	for _, l := range r.Langues {
		if blank(l.Libelle) {
			continue
		}
		t.Languages = append(t.Languages, Language{OfferID: id, Ordinal: n, Libelle: l.Libelle, Exigence: l.Exigence})
		n++
	}

	if c := r.Contact; c != nil && !blank(c.Nom, c.Coordonnees1, c.Coordonnees2, c.Coordonnees3,
		c.Telephone, c.Courriel, c.Commentaire, c.URLRecruteur, c.URLPostulation) {
		t.Contacts = append(t.Contacts, Contact{
			OfferID:        id,
			Nom:            c.Nom,
			Coordonnees1:   c.Coordonnees1,
			Coordonnees2:   c.Coordonnees2,
			Coordonnees3:   c.Coordonnees3,
			Telephone:      c.Telephone,
			Courriel:       c.Courriel,
			Commentaire:    c.Commentaire,
			URLRecruteur:   c.URLRecruteur,
			URLPostulation: c.URLPostulation,
		})
	}

	if o := r.OrigineOffre; o != nil && (!blank(o.Origine, o.URLOrigine) || len(o.Partenaires) > 0) {
		t.Origins = append(t.Origins, Origin{
			OfferID:     id,
			Origine:     o.Origine,
			URLOrigine:  o.URLOrigine,
			Partenaires: partnersJSON(o.Partenaires),
		})
	}

	if ctx := r.ContexteTravail; ctx != nil {
		n = 0
		for _, h := range ctx.Horaires {
			if blank(h) {
				continue
			}
			t.WorkSchedules = append(t.WorkSchedules, WorkSchedule{OfferID: id, Ordinal: n, Horaire: h})
			n++
		}
	}
}

// partnersJSON encodes partners as a JSON array ("[]" when empty).
func partnersJSON(p []RawPartenaire) string {
	if len(p) == 0 {
		return "[]"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
