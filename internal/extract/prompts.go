package extract

const detailsSystem = `You are a precise factual data extraction system. Output ONLY valid JSON. No markdown, no backticks, no preamble. Start with { and end with }. Escape all quotes inside strings. Follow the exact structure provided. Extract every relevant detail without repetition.`

const detailsPrompt = `Extract ALL verified facts about: "%s"

SEARCH RESULTS:
%s

ARTICLES:
%s

Respond with ONLY this JSON:
{
  "headline": "15-25 word factual lead",
  "location": "City, State/Country - specific venue or address",
  "details": {
    "overview": "400-500 word narrative in chronological order. Mark important terms (2-3 words at a time) with **bold**: names, charges, amounts, dates, locations.",
    "keyPoints": [
      {"label": "Concise 1-3 word label", "value": "Complete detailed information"}
    ]
  },
  "accused": {
    "individuals": [
      {"name": "Full name if public", "summary": "2-3 dense sentences: identification, role, actions attributed", "details": [{"label": "Specific label", "value": "Facts not in the summary"}]}
    ],
    "organizations": [
      {"name": "Organization", "summary": "2-3 sentences", "details": [{"label": "Specific label", "value": "Facts not in the summary"}]}
    ]
  },
  "victims": {
    "individuals": [
      {"name": "Name if public", "summary": "2-3 sentences: identification, relationship to the event, harm suffered", "details": [{"label": "Specific label", "value": "Facts not in the summary"}]}
    ],
    "groups": [
      {"name": "Group or community", "summary": "2-3 sentences", "details": [{"label": "Specific label", "value": "Facts not in the summary"}]}
    ]
  },
  "timeline": [
    {
      "date": "Month Day, Year",
      "context": "12-20 words on why this date matters",
      "events": [
        {"time": "Exact time or period", "description": "60-100 words: who, what, where", "participants": "People or bodies involved", "evidence": "Evidence, filings or statements"}
      ]
    }
  ]
}

RULES:

Use ONLY facts stated in the sources above. Never invent or assume. Leave out anything the sources do not state.

KEY POINTS: 8-15 label-value pairs, each adding information not already in the overview.

PARTIES: One object per accused or victim. Use "organizations" for companies, agencies and institutions; use "groups" for crowds, communities or classes of people.

DETAILS: 4-10 label-value pairs per party with exact numbers, full names and titles, statute sections, amounts with currency, case numbers and direct quotes.

TIMELINE: One entry for every date mentioned, ordered oldest first. Process older sources first for background, then layer newer developments.

NO REPETITION: Each fact appears once, in the most logical section.

Output valid JSON only.`

const updatesSystem = `You are a news analyst that finds new developments in a story. Output ONLY valid JSON starting with { and ending with }.`

const updatesPrompt = `Analyze developments for: "%s" occurring AFTER %s

{
  "has_new_updates": true,
  "updates": [
    {
      "date": "YYYY-MM-DD",
      "title": "Max 100 characters",
      "description": "800-1000 characters",
      "relevance_score": 8.5,
      "key_insights": ["insight 1", "insight 2", "insight 3"],
      "summary": "Max 200 characters",
      "sources": ["url1", "url2"]
    }
  ]
}

REQUIREMENTS:

Read all article content provided. Use ONLY content published AFTER %s.

Group findings by publication date. Create a SEPARATE update object for EACH distinct date. Never combine dates.

If nothing was published after %s, return: {"has_new_updates": false, "updates": []}

The date field must be YYYY-MM-DD and match the publication date.

The title must be specific to that date's development, at most 100 characters.

The description must be 800-1000 characters covering only that date, with specific data, facts and implications.

relevance_score is 0-10 and rates the significance of that date's developments.

key_insights holds 3-5 complete sentences. summary is under 200 characters.

sources lists the URLs used for that date.

Sort updates oldest to newest.

RESULTS:
%s

Return ONLY JSON.`
